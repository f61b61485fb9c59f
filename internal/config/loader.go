package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "CHARGE"

// newViper builds a pre-configured Viper instance: YAML file type, CHARGE_
// env prefix, automatic env binding, and a key replacer that maps "." → "_"
// so that nested keys like "engine.resolution" resolve to
// "CHARGE_ENGINE_RESOLUTION".
//
// Boolean settings whose default is true are registered here because
// ApplyDefaults cannot tell an explicit false from an unset field.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("classifier.symmetric", true)
	v.SetDefault("charger.iacm", true)
	v.SetDefault("charger.fallback_to_elements", true)
	v.SetDefault("charger.cache_results", true)
	v.SetDefault("metrics.enabled", true)

	// Registered so AutomaticEnv can resolve them during Unmarshal.
	v.SetDefault("engine.resolution", 0.0)
	v.SetDefault("repository.path", "")
	v.SetDefault("repository.source", "")
	v.SetDefault("log.level", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "")
	return v
}

// Load reads the YAML file at configPath, merges any CHARGE_* environment
// variable overrides, applies defaults for unset fields, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from CHARGE_* environment variables,
// with no config file required.
//
//	CHARGE_<SECTION>_<FIELD>   e.g.  CHARGE_ENGINE_RESOLUTION, CHARGE_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath and invokes onChange with the newly parsed Config
// whenever the file is modified. Callers apply only the safe subset of
// changes at runtime (log level, shells, candidate limits). A change that
// fails to parse or validate is reported through onError and otherwise
// ignored.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics on any error. main() only.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
