package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults registers every default value on v so keys missing from the
// config file still unmarshal to Defaults().
func SetDefaults(v *viper.Viper) {
	defaults := Defaults()
	v.SetDefault("debug", defaults.Debug)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("output.format", defaults.Output.Format)
	v.SetDefault("output.indent", defaults.Output.Indent)
	v.SetDefault("output.color", defaults.Output.Color)
	v.SetDefault("import.initial_typing", defaults.Import.InitialTyping)
	v.SetDefault("import.strict_types", defaults.Import.StrictTypes)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
}

// Decode unmarshals the settings held by v and validates them.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads a single config file with defaults applied.
func Load(configPath string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Decode(v)
}
