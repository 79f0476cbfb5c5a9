package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.False(t, cfg.Debug)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, FormatJSON, cfg.Output.Format)
	require.Equal(t, 2, cfg.Output.Indent)
	require.True(t, cfg.Output.Color)
	require.True(t, cfg.Import.StrictTypes)
	require.False(t, cfg.Import.InitialTyping)
	require.False(t, cfg.Tracing.Enabled, "tracing should be disabled by default")
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.Equal(t, 1.0, cfg.Tracing.SampleRate)
	require.NoError(t, Validate(cfg))
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "log_level")

	cfg.LogLevel = ""
	require.NoError(t, Validate(cfg), "empty level falls back to info")
}

func TestValidateOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     OutputConfig
		wantErr string
	}{
		{name: "json", out: OutputConfig{Format: "json", Indent: 2}},
		{name: "yaml", out: OutputConfig{Format: "yaml", Indent: 4}},
		{name: "empty format uses default", out: OutputConfig{}},
		{name: "unknown format", out: OutputConfig{Format: "toml"}, wantErr: "output.format"},
		{name: "negative indent", out: OutputConfig{Format: "json", Indent: -1}, wantErr: "output.indent"},
		{name: "huge indent", out: OutputConfig{Format: "json", Indent: 12}, wantErr: "output.indent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutput(tt.out)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTracing(t *testing.T) {
	require.NoError(t, ValidateTracing(TracingConfig{}))
	require.NoError(t, ValidateTracing(TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.5}))

	err := ValidateTracing(TracingConfig{SampleRate: 1.5})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sample_rate")

	err = ValidateTracing(TracingConfig{Exporter: "jaeger"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "tracing.exporter")

	err = ValidateTracing(TracingConfig{Enabled: true, Exporter: "otlp"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "otlp_endpoint")

	require.NoError(t, ValidateTracing(TracingConfig{Enabled: false, Exporter: "otlp"}),
		"endpoint only required when enabled")
}

func TestValidateValidators(t *testing.T) {
	require.NoError(t, ValidateValidators(nil))
	require.NoError(t, ValidateValidators(map[string][]string{"port": {"min=1"}}))

	err := ValidateValidators(map[string][]string{"port": {}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "validators.port")

	err = ValidateValidators(map[string][]string{"": {"nonempty"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "tag name is required")
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(content))
}

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Defaults()
	require.Equal(t, want.Output, cfg.Output)
	require.Equal(t, want.Import, cfg.Import)
	require.Equal(t, want.Tracing, cfg.Tracing)
	require.Equal(t, want.LogLevel, cfg.LogLevel)
	require.Empty(t, cfg.Validators)
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
output:
  format: yaml
import:
  initial_typing: true
validators:
  port: ["min=1", "max=65535"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, FormatYAML, cfg.Output.Format)
	require.Equal(t, 2, cfg.Output.Indent, "unset keys keep their defaults")
	require.True(t, cfg.Output.Color)
	require.True(t, cfg.Import.InitialTyping)
	require.True(t, cfg.Import.StrictTypes)
	require.Equal(t, []string{"min=1", "max=65535"}, cfg.Validators["port"])
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  format: xml\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDecode_FromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("tracing.enabled", true)
	v.Set("tracing.exporter", "stdout")

	cfg, err := Decode(v)
	require.NoError(t, err)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, "stdout", cfg.Tracing.Exporter)
	require.Equal(t, "localhost:4317", cfg.Tracing.OTLPEndpoint)
}
