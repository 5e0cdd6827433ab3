package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/creatorhub/creatorhub/pkg/observability"
)

// ActiveSource returns the single active storage setting, or an error
// matching ErrNoActiveConfig
type ActiveSource interface {
	GetActive(ctx context.Context) (*StorageSetting, error)
}

// Env is what constructors receive besides the config
type Env struct {
	Clients *ClientCache
	// LocalURL is the public base URL of the local driver when the setting
	// has none
	LocalURL string
}

// Constructor builds a driver from a resolved, validated config
type Constructor func(ctx context.Context, cfg Config, env Env) (Driver, error)

// FactoryOptions configures a Factory
type FactoryOptions struct {
	// Timeout bounds every driver operation unless the setting metadata
	// carries its own
	Timeout  time.Duration
	LocalURL string
	Clients  *ClientCache
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// Factory turns driver names and configs into drivers
type Factory struct {
	source ActiveSource
	opts   FactoryOptions

	mu       sync.RWMutex
	registry map[string]Constructor
}

// NewFactory creates a factory with every built-in driver registered.
// source may be nil, in which case Make always needs an explicit config.
func NewFactory(source ActiveSource, opts FactoryOptions) *Factory {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	f := &Factory{source: source, opts: opts, registry: make(map[string]Constructor)}

	f.Register(DriverLocal, func(_ context.Context, cfg Config, env Env) (Driver, error) {
		return NewLocalDriver(cfg, env.LocalURL)
	})
	for name := range providerProfiles {
		f.Register(name, s3Constructor(name))
	}
	return f
}

func s3Constructor(name string) Constructor {
	return func(ctx context.Context, cfg Config, env Env) (Driver, error) {
		clients, err := env.Clients.get(ctx, cfg)
		if err != nil {
			return nil, newError(ErrInvalidConfig, "make", name, "", err)
		}
		return NewS3Driver(name, cfg, clients), nil
	}
}

// Register adds or replaces the constructor for a driver name
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[name] = ctor
}

// Drivers returns the registered driver names in sorted order
func (f *Factory) Drivers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.registry))
	for name := range f.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether a driver name is registered
func (f *Factory) Supports(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.registry[name]
	return ok
}

// Make returns a driver.
//
// With neither driver nor cfg it is built from the active setting and fails
// with ErrNoActiveConfig when there is none. Fields set in cfg, and a
// non-empty driver name, always win over the active setting. The active
// setting is only used as a base when it runs the requested driver; a driver
// name without cfg therefore needs that driver to be the active one. cfg is
// never merged with settings of another provider.
func (f *Factory) Make(ctx context.Context, driver string, cfg *ConfigPatch) (Driver, error) {
	if driver != "" && !f.Supports(driver) {
		return nil, newError(ErrUnsupportedDriver, "make", driver, "", nil)
	}

	target := driver
	if target == "" && cfg != nil && cfg.Driver != nil {
		target = *cfg.Driver
	}

	active, err := f.active(ctx)
	if err != nil && !errors.Is(err, ErrNoActiveConfig) {
		if target == "" || cfg == nil {
			return nil, err
		}
		// the explicit config may still stand on its own
		explicit := Config{}.Apply(cfg)
		explicit.Driver = target
		if verr := f.Validate(explicit); verr != nil {
			return nil, err
		}
		observability.FromContextOr(ctx, f.opts.Logger).WithError(err).WithField("driver", target).
			Warn("active storage setting unavailable, using explicit config")
		return f.build(ctx, explicit)
	}

	var resolved Config
	if active != nil && (target == "" || target == active.Driver) {
		resolved = active.Config()
	}
	if cfg == nil && resolved.Driver == "" {
		if active == nil {
			return nil, err
		}
		return nil, newError(ErrNoActiveConfig, "make", target, "", nil)
	}

	resolved = resolved.Apply(cfg)
	if driver != "" {
		resolved.Driver = driver
	}
	if resolved.Driver == "" {
		return nil, newError(ErrNoActiveConfig, "make", "", "", nil)
	}
	return f.build(ctx, resolved)
}

// FromSetting builds a driver for a specific setting, active or not
func (f *Factory) FromSetting(ctx context.Context, s *StorageSetting) (Driver, error) {
	return f.build(ctx, s.Config())
}

func (f *Factory) active(ctx context.Context) (*StorageSetting, error) {
	if f.source == nil {
		return nil, newError(ErrNoActiveConfig, "make", "", "", nil)
	}
	return f.source.GetActive(ctx)
}

func (f *Factory) build(ctx context.Context, cfg Config) (Driver, error) {
	f.mu.RLock()
	ctor, ok := f.registry[cfg.Driver]
	f.mu.RUnlock()
	if !ok {
		return nil, newError(ErrUnsupportedDriver, "make", cfg.Driver, "", nil)
	}

	if profile, ok := providerProfiles[cfg.Driver]; ok {
		cfg = profile.resolve(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrInvalidConfig, "make", cfg.Driver, "", err)
	}

	d, err := ctor(ctx, cfg, Env{Clients: f.opts.Clients, LocalURL: f.opts.LocalURL})
	if err != nil {
		return nil, err
	}

	observability.FromContextOr(ctx, f.opts.Logger).WithField("driver", cfg.Driver).Debug("storage driver resolved")
	return Instrument(d, f.opts.Metrics, cfg.Timeout(f.opts.Timeout)), nil
}

// Validate checks cfg the way Make would, without building SDK clients
func (f *Factory) Validate(cfg Config) error {
	if !f.Supports(cfg.Driver) {
		return newError(ErrUnsupportedDriver, "validate", cfg.Driver, "", nil)
	}
	if profile, ok := providerProfiles[cfg.Driver]; ok {
		cfg = profile.resolve(cfg)
	}
	if err := cfg.validate(); err != nil {
		return newError(ErrInvalidConfig, "validate", cfg.Driver, "", err)
	}
	return nil
}

// Base strips decorators such as Instrumented from d
func Base(d Driver) Driver {
	for {
		u, ok := d.(interface{ Unwrap() Driver })
		if !ok {
			return d
		}
		d = u.Unwrap()
	}
}
