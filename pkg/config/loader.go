package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/tandemflow/tandem/pkg/config/provider"
)

// Loader loads and watches configuration from a Provider.
type Loader struct {
	provider provider.Provider
	onChange func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets a callback invoked with each successfully reloaded
// config while watching.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader over the given provider.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{provider: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, expands and validates the configuration.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := ExpandEnvVarsInData(rawMap)

	cfg := &Config{}
	if err := decodeConfig(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch reloads the config whenever the provider signals a change,
// invoking the onChange callback with each valid new config. A reload
// that fails validation is logged and skipped; the previous config
// stays in effect.
func (l *Loader) Watch(ctx context.Context) error {
	ch, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	if ch == nil {
		return nil
	}

	go func() {
		for range ch {
			cfg, err := l.Load(ctx)
			if err != nil {
				slog.Warn("config reload failed, keeping previous", "error", err)
				continue
			}
			slog.Info("config reloaded")
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}()
	return nil
}

// Close releases the underlying provider.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// decodeConfig maps the expanded raw tree onto the Config struct using
// the yaml field tags.
func decodeConfig(raw interface{}, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(raw)
}
