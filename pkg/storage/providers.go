package storage

import "fmt"

// providerProfile describes how an S3 compatible provider differs from AWS
type providerProfile struct {
	// defaultEndpoint builds the API endpoint from the region. Nil leaves
	// endpoint resolution to the SDK.
	defaultEndpoint func(region string) string
	defaultRegion   string
	// supportsACL is false for providers that reject per-object canned ACLs;
	// visibility is then a property of the bucket.
	supportsACL      bool
	forcePathStyle   bool
	requiresEndpoint bool
	requiresRegion   bool
	// signWhenNoURL makes URL presign when no public base URL is configured,
	// because the API endpoint never serves objects anonymously
	signWhenNoURL bool
}

var providerProfiles = map[string]providerProfile{
	DriverAWSS3: {
		defaultRegion:  "us-east-1",
		supportsACL:    true,
		requiresRegion: true,
	},
	DriverDOS3: {
		defaultEndpoint: func(region string) string {
			return fmt.Sprintf("https://%s.digitaloceanspaces.com", region)
		},
		supportsACL:    true,
		requiresRegion: true,
	},
	DriverContaboS3: {
		defaultEndpoint: func(region string) string {
			return fmt.Sprintf("https://%s.contabostorage.com", region)
		},
		supportsACL:    true,
		forcePathStyle: true,
		requiresRegion: true,
	},
	DriverCloudflareR2: {
		defaultRegion:    "auto",
		forcePathStyle:   true,
		requiresEndpoint: true,
		signWhenNoURL:    true,
	},
	DriverBackblazeB2: {
		defaultEndpoint: func(region string) string {
			return fmt.Sprintf("https://s3.%s.backblazeb2.com", region)
		},
		requiresRegion: true,
	},
}

// resolve fills provider defaults into cfg
func (p providerProfile) resolve(cfg Config) Config {
	if cfg.Region == "" {
		cfg.Region = p.defaultRegion
	}
	if cfg.Endpoint == "" && p.defaultEndpoint != nil && cfg.Region != "" {
		cfg.Endpoint = p.defaultEndpoint(cfg.Region)
	}
	if p.forcePathStyle {
		cfg.UsePathStyleEndpoint = true
	}
	return cfg
}
