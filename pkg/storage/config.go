package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Driver identifiers
const (
	DriverLocal        = "local"
	DriverAWSS3        = "aws_s3"
	DriverDOS3         = "do_s3"
	DriverContaboS3    = "contabo_s3"
	DriverCloudflareR2 = "cloudflare_r2"
	DriverBackblazeB2  = "backblaze_b2"
)

// MetadataTimeout is the metadata key holding a per-driver operation timeout
// such as "45s"
const MetadataTimeout = "timeout"

// Config is the flat configuration a driver is built from
type Config struct {
	Driver               string                 `json:"driver"`
	Key                  string                 `json:"key"`
	Secret               string                 `json:"-"`
	Region               string                 `json:"region"`
	Bucket               string                 `json:"bucket"`
	Endpoint             string                 `json:"endpoint"`
	URL                  string                 `json:"url"`
	UsePathStyleEndpoint bool                   `json:"use_path_style_endpoint"`
	RootPath             string                 `json:"root_path"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// ConfigPatch carries explicitly supplied fields. Nil means "not supplied":
// the value already in effect is kept, it is never cleared.
type ConfigPatch struct {
	Driver               *string                `json:"driver,omitempty"`
	Key                  *string                `json:"key,omitempty"`
	Secret               *string                `json:"secret,omitempty"`
	Region               *string                `json:"region,omitempty"`
	Bucket               *string                `json:"bucket,omitempty"`
	Endpoint             *string                `json:"endpoint,omitempty"`
	URL                  *string                `json:"url,omitempty"`
	UsePathStyleEndpoint *bool                  `json:"use_path_style_endpoint,omitempty"`
	RootPath             *string                `json:"root_path,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// Empty reports whether the patch supplies nothing
func (p *ConfigPatch) Empty() bool {
	return p == nil || (p.Driver == nil && p.Key == nil && p.Secret == nil && p.Region == nil &&
		p.Bucket == nil && p.Endpoint == nil && p.URL == nil && p.UsePathStyleEndpoint == nil &&
		p.RootPath == nil && p.Metadata == nil)
}

// Apply returns c with every supplied field of p written over it
func (c Config) Apply(p *ConfigPatch) Config {
	if p == nil {
		return c
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.Driver, p.Driver)
	set(&c.Key, p.Key)
	set(&c.Secret, p.Secret)
	set(&c.Region, p.Region)
	set(&c.Bucket, p.Bucket)
	set(&c.Endpoint, p.Endpoint)
	set(&c.URL, p.URL)
	set(&c.RootPath, p.RootPath)
	if p.UsePathStyleEndpoint != nil {
		c.UsePathStyleEndpoint = *p.UsePathStyleEndpoint
	}
	if p.Metadata != nil {
		c.Metadata = p.Metadata
	}
	return c
}

// Timeout returns the metadata timeout, or fallback when absent or invalid
func (c Config) Timeout(fallback time.Duration) time.Duration {
	raw, ok := c.Metadata[MetadataTimeout].(string)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Fingerprint identifies the SDK client a config needs. Two configs with the
// same fingerprint can share a client.
func (c Config) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%t", c.Driver, c.Key, c.Secret, c.Region, c.Endpoint, c.UsePathStyleEndpoint)
	return hex.EncodeToString(h.Sum(nil))
}

// Location identifies where objects written with c end up. Credentials are
// not part of it, so rotating keys keeps the location while pointing at
// another bucket, endpoint or root path changes it.
func (c Config) Location() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", c.Driver, c.Endpoint, c.Region, c.Bucket, strings.Trim(c.RootPath, "/"))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// validate checks the fields the driver cannot work without
func (c Config) validate() error {
	if c.Driver == DriverLocal {
		if c.RootPath == "" {
			return fmt.Errorf("root_path is required")
		}
		return nil
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if (c.Key == "") != (c.Secret == "") {
		return fmt.Errorf("key and secret must be set together")
	}
	profile := providerProfiles[c.Driver]
	if profile.requiresEndpoint && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for %s", c.Driver)
	}
	if profile.requiresRegion && c.Region == "" && c.Endpoint == "" {
		return fmt.Errorf("region or endpoint is required for %s", c.Driver)
	}
	return nil
}
