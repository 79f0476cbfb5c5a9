package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protdict/internal/presentation"
	"github.com/zjrosen/protdict/internal/snapshot"
	"github.com/zjrosen/protdict/internal/tracing"
)

// ErrSnapshotsDiffer is returned by diff --exit-code when the snapshots differ.
var ErrSnapshotsDiffer = errors.New("snapshots differ")

var (
	diffSummary  bool
	diffExitCode bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Compare two snapshots entry by entry",
	Long: `Load both snapshots, re-export them in canonical form, and print a line diff.

Both files are fully imported first, so a snapshot that fails its own type
locks or validators is reported as an error rather than diffed.

Examples:
  protdict diff before.json after.yaml
  protdict diff before.json after.json --summary
  protdict diff before.json after.json --exit-code`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldPath, newPath := args[0], args[1]
		env, err := newEnv()
		if err != nil {
			return err
		}

		var lines []snapshot.DiffLine
		err = traced(cmd, func(ctx context.Context) error {
			docs := make([]map[string]any, 0, 2)
			for _, path := range args {
				res, _, err := loadData(ctx, env, path)
				if err != nil {
					return err
				}
				doc, err := res.Data.Export()
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}

			return tracing.Phase(ctx, tracing.PhaseDiff, func(ctx context.Context) error {
				var err error
				if lines, err = snapshot.Diff(docs[0], docs[1]); err != nil {
					return err
				}
				added, removed := snapshot.Stats(lines)
				tracing.Annotate(ctx,
					attribute.Int(tracing.AttrDiffAdded, added),
					attribute.Int(tracing.AttrDiffRemoved, removed),
				)
				return nil
			})
		})
		if err != nil {
			return err
		}

		if diffSummary {
			format, err := outputFormat()
			if err != nil {
				return err
			}
			err = newFormatter(cmd, format).FormatValue(presentation.FromDiff(oldPath, newPath, lines))
			if err != nil {
				return err
			}
		} else if err := newFormatter(cmd, snapshot.JSON).FormatDiff(oldPath, newPath, lines); err != nil {
			return err
		}

		if diffExitCode && snapshot.Changed(lines) {
			return ErrSnapshotsDiffer
		}
		return nil
	},
}

func init() {
	diffCmd.Flags().BoolVar(&diffSummary, "summary", false, "print counts instead of the line diff")
	diffCmd.Flags().BoolVar(&diffExitCode, "exit-code", false, "fail when the snapshots differ")
	rootCmd.AddCommand(diffCmd)
}
