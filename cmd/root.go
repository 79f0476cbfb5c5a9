package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protdict/internal/config"
	"github.com/zjrosen/protdict/internal/log"
	"github.com/zjrosen/protdict/internal/presentation"
	"github.com/zjrosen/protdict/internal/snapshot"
	"github.com/zjrosen/protdict/internal/tracing"
	"github.com/zjrosen/protdict/pkg/data"
	"github.com/zjrosen/protdict/pkg/validate"
)

const defaultConfigPath = ".protdict/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	configErr error

	provider   *tracing.Provider
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "protdict",
	Short: "Inspect and convert protected key/value snapshots",
	Long: `protdict loads exported protected containers from JSON or YAML snapshot files,
checks them against type locks and tag validators, and converts, compares or edits them.`,
	Version:            version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnFinalize(teardown)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .protdict/config.yaml, then ~/.config/protdict/config.yaml)")
	rootCmd.PersistentFlags().StringP("format", "f", "", "output format: json or yaml")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable coloured output")
}

func initConfig() {
	viper.Reset()
	config.SetDefaults(viper.GetViper())
	_ = viper.BindPFlag("output.format", rootCmd.PersistentFlags().Lookup("format"))
	viper.SetEnvPrefix("protdict")
	_ = viper.BindEnv("debug")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .protdict/config.yaml (current directory)
		// 2. ~/.config/protdict/config.yaml (user config)
		if _, err := os.Stat(defaultConfigPath); err == nil {
			viper.SetConfigFile(defaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "protdict"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	configErr = nil
	if err := viper.ReadInConfig(); err != nil {
		// Without any config file the defaults apply; `protdict init` writes one.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			configErr = fmt.Errorf("reading config: %w", err)
			return
		}
	}

	cfg, configErr = config.Decode(viper.GetViper())
}

func setup(cmd *cobra.Command, _ []string) error {
	if configErr != nil {
		return configErr
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		path := cfg.LogFile
		if path == "" {
			path = "debug.log"
		}
		cleanup, err := log.Init(path)
		if err != nil {
			return fmt.Errorf("opening debug log: %w", err)
		}
		logCleanup = cleanup
		log.SetMinLevel(log.LevelDebug)
	} else {
		log.InitWriter(cmd.ErrOrStderr(), level)
	}

	tracesPath := cfg.Tracing.FilePath
	if tracesPath == "" {
		tracesPath = config.DefaultTracesFilePath()
	}
	p, err := tracing.NewProvider(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		FilePath:       tracesPath,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    tracing.DefaultServiceName,
		ServiceVersion: rootCmd.Version,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	provider = p

	log.Debug(log.CatCLI, "Command starting", "command", cmd.Name(), "config", viper.ConfigFileUsed())
	return nil
}

// teardown flushes traces and closes the debug log. It runs after every
// command, failed ones included.
func teardown() {
	if provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.ErrorErr(log.CatCLI, "Tracing shutdown failed", err)
		}
		provider = nil
	}
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
}

// traced runs fn inside the command's root span.
func traced(cmd *cobra.Command, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	p := provider
	if p == nil {
		var err error
		if p, err = tracing.NewProvider(tracing.Config{}); err != nil {
			return err
		}
	}
	return tracing.Command(cmd.Context(), p.Tracer(), cmd.Name(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil {
			log.ErrorErr(log.CatCLI, "Command failed", err, "command", cmd.Name(), "trace_id", tracing.TraceID(ctx))
		}
		return err
	}, attrs...)
}

// newEnv builds registries with the configured tag validators attached.
func newEnv() (*data.Env, error) {
	env := data.NewEnv(nil, validate.NewRegistry())
	tags := make([]string, 0, len(cfg.Validators))
	for tag := range cfg.Validators {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if err := env.Validators.RegisterRules(tag, cfg.Validators[tag]...); err != nil {
			return nil, fmt.Errorf("config validators: %w", err)
		}
	}
	return env, nil
}

// loadData reads a snapshot file into a container using the import settings.
func loadData(ctx context.Context, env *data.Env, path string) (snapshot.Result, snapshot.Format, error) {
	var (
		doc    map[string]any
		format snapshot.Format
		res    snapshot.Result
	)
	err := tracing.Phase(ctx, tracing.PhaseLoad, func(context.Context) error {
		var err error
		doc, format, err = snapshot.Load(path)
		return err
	}, attribute.String(tracing.AttrSnapshotPath, path))
	if err != nil {
		return res, "", err
	}

	err = tracing.Phase(ctx, tracing.PhaseImport, func(ctx context.Context) error {
		var err error
		res, err = snapshot.ToData(doc, snapshot.LoadOptions{
			Env:           env,
			InitialTyping: cfg.Import.InitialTyping,
			StrictTypes:   cfg.Import.StrictTypes,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if len(res.Dropped) > 0 {
			tracing.Event(ctx, tracing.EventTypesDropped, attribute.Int(tracing.AttrDropped, len(res.Dropped)))
		}
		tracing.Annotate(ctx,
			attribute.String(tracing.AttrDataID, res.Data.ID().String()),
			attribute.Int(tracing.AttrDataEntries, len(res.Data.TagsByKey())),
			attribute.Bool(tracing.AttrDataFrozen, res.Data.Frozen()),
		)
		return nil
	}, attribute.String(tracing.AttrSnapshotFormat, string(format)))
	return res, format, err
}

// outputFormat resolves the structured output format from config and flags.
func outputFormat() (snapshot.Format, error) {
	return snapshot.ParseFormat(cfg.Output.Format)
}

func newFormatter(cmd *cobra.Command, format snapshot.Format) *presentation.Formatter {
	noColor, _ := cmd.Flags().GetBool("no-color")
	return presentation.NewFormatter(cmd.OutOrStdout(),
		presentation.WithFormat(format),
		presentation.WithIndent(cfg.Output.Indent),
		presentation.WithColor(cfg.Output.Color && !noColor),
	)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
