// Package config provides configuration types and defaults for the protdict command-line tool.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zjrosen/protdict/internal/log"
)

// Config holds all configuration options for protdict.
type Config struct {
	Debug    bool   `mapstructure:"debug"`
	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"` // debug, info (default), warn, error

	Output  OutputConfig  `mapstructure:"output"`
	Import  ImportConfig  `mapstructure:"import"`
	Tracing TracingConfig `mapstructure:"tracing"`

	// Validators maps a tag to the rules attached to it before any snapshot is loaded.
	// Example YAML:
	//   validators:
	//     port: ["min=1", "max=65535"]
	//     name: ["nonempty"]
	Validators map[string][]string `mapstructure:"validators"`
}

// OutputConfig controls how snapshots and reports are written.
type OutputConfig struct {
	Format string `mapstructure:"format"` // "json" (default) or "yaml"
	Indent int    `mapstructure:"indent"` // spaces per level, 0 for compact JSON
	Color  bool   `mapstructure:"color"`  // colour diff output
}

// ImportConfig controls how snapshot files are turned into containers.
type ImportConfig struct {
	// InitialTyping type-locks every entry to the type of its loaded value.
	InitialTyping bool `mapstructure:"initial_typing"`

	// StrictTypes fails the load when a tagged entry names a type the registry
	// does not know. When false such names are dropped with a warning.
	StrictTypes bool `mapstructure:"strict_types"`
}

// TracingConfig holds tracing configuration for CLI commands.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/protdict/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/protdict/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "protdict", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Output: OutputConfig{
			Format: FormatJSON,
			Indent: 2,
			Color:  true,
		},
		Import: ImportConfig{
			InitialTyping: false,
			StrictTypes:   true,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate checks the whole configuration and returns the first problem found.
func Validate(cfg Config) error {
	if _, ok := log.ParseLevel(cfg.LogLevel); !ok && cfg.LogLevel != "" {
		return fmt.Errorf("log_level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", cfg.LogLevel)
	}
	if err := ValidateOutput(cfg.Output); err != nil {
		return err
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	return ValidateValidators(cfg.Validators)
}

// ValidateOutput checks output configuration for errors.
func ValidateOutput(out OutputConfig) error {
	switch out.Format {
	case "", FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("output.format must be %q or %q, got %q", FormatJSON, FormatYAML, out.Format)
	}
	if out.Indent < 0 || out.Indent > 8 {
		return fmt.Errorf("output.indent must be between 0 and 8, got %d", out.Indent)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tracing.Enabled && tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}

	return nil
}

// ValidateValidators checks that every tag has a name and at least one rule.
// Rule syntax is checked when the rules are compiled.
func ValidateValidators(validators map[string][]string) error {
	tags := make([]string, 0, len(validators))
	for tag := range validators {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if tag == "" {
			return fmt.Errorf("validators: tag name is required")
		}
		if len(validators[tag]) == 0 {
			return fmt.Errorf("validators.%s: at least one rule is required", tag)
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# protdict configuration

# Write a debug log (also enabled with PROTDICT_DEBUG=1)
debug: false
# log_file: debug.log
log_level: info           # debug, info, warn, error

# Output settings
output:
  format: json            # json or yaml
  indent: 2               # spaces per level, 0 for compact JSON
  color: true             # colour diff output

# How snapshot files become containers
import:
  initial_typing: false   # type-lock every entry to its loaded value
  strict_types: true      # fail on unknown type names instead of dropping them

# Validators attached to tags before a snapshot is loaded.
# Rules: nonempty, positive, nonnegative, min=N, max=N, oneof=a|b|c, match=REGEX
# validators:
#   port: ["min=1", "max=65535"]
#   name: ["nonempty"]

# Tracing (OpenTelemetry)
tracing:
  enabled: false
  exporter: file          # none, file, stdout, otlp
  # file_path: ~/.config/protdict/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
