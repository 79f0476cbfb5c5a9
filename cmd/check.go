package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protdict/internal/log"
	"github.com/zjrosen/protdict/internal/presentation"
	"github.com/zjrosen/protdict/internal/watcher"
	"github.com/zjrosen/protdict/pkg/data"
)

var checkWatch bool

var checkCmd = &cobra.Command{
	Use:   "check <snapshot>...",
	Short: "Load snapshots and report their entries",
	Long: `Load one or more snapshot files, rebuilding every entry with its type locks
and tag validators, and print a summary per file.

A snapshot fails the check when it cannot be parsed, names an unknown type
(with import.strict_types), or holds a value its type lock or validators reject.

With --watch the snapshots are checked again whenever they change, until
interrupted.

Examples:
  protdict check settings.json
  protdict check -f yaml a.json b.yaml
  protdict check --watch settings.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		env, err := newEnv()
		if err != nil {
			return err
		}
		f := newFormatter(cmd, format)

		reports, failed, err := checkSnapshots(cmd, env, args)
		if err != nil {
			return err
		}
		if err := f.FormatValue(reports); err != nil {
			return err
		}

		if checkWatch {
			return watchSnapshots(cmd, args, func(changed []string) error {
				reports, _, err := checkSnapshots(cmd, env, changed)
				if err != nil {
					return err
				}
				return f.FormatValue(reports)
			})
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d snapshots failed", failed, len(args))
		}
		return nil
	},
}

// checkSnapshots loads every path and returns one report per path with the failure count.
func checkSnapshots(cmd *cobra.Command, env *data.Env, paths []string) ([]presentation.CheckDTO, int, error) {
	var reports []presentation.CheckDTO
	failed := 0
	err := traced(cmd, func(ctx context.Context) error {
		for _, path := range paths {
			res, snapFormat, err := loadData(ctx, env, path)
			if err != nil {
				failed++
				reports = append(reports, presentation.CheckDTO{Path: path, Error: err.Error()})
				continue
			}
			reports = append(reports, presentation.FromCheck(path, snapFormat, res))
		}
		return nil
	})
	return reports, failed, err
}

// watchSnapshots calls onChange with the changed paths until interrupted.
func watchSnapshots(cmd *cobra.Command, paths []string, onChange func([]string) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	w, err := watcher.New(watcher.DefaultConfig(paths...))
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}
	log.Info(log.CatWatch, "Watching snapshots", "count", len(paths))

	for {
		select {
		case <-ctx.Done():
			return nil
		case changed := <-changes:
			log.Debug(log.CatWatch, "Snapshots changed", "paths", changed)
			if err := onChange(changed); err != nil {
				return err
			}
		}
	}
}

func init() {
	checkCmd.Flags().BoolVarP(&checkWatch, "watch", "w", false, "check again whenever a snapshot changes")
	rootCmd.AddCommand(checkCmd)
}
