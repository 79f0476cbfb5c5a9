package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protdict/internal/snapshot"
	"github.com/zjrosen/protdict/internal/tracing"
	"github.com/zjrosen/protdict/pkg/data"
)

var (
	convertTo        string
	convertProtect   []string
	convertEssential []string
	convertHide      []string
	convertTypeAll   bool
	convertFreeze    bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <in> [out]",
	Short: "Re-export a snapshot, optionally changing format and entry flags",
	Long: `Load a snapshot, apply the requested flag changes, and export it again.

The output format follows the extension of <out>. Without <out>, or with "-",
the snapshot is written to stdout in --to (or output.format) format.

Examples:
  protdict convert settings.json settings.yaml
  protdict convert settings.json --protect port --hide token --to yaml
  protdict convert settings.json locked.json --type-all --freeze`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := args[0]
		out := "-"
		if len(args) == 2 {
			out = args[1]
		}

		format, err := convertFormat(out)
		if err != nil {
			return err
		}
		env, err := newEnv()
		if err != nil {
			return err
		}

		return traced(cmd, func(ctx context.Context) error {
			res, _, err := loadData(ctx, env, in)
			if err != nil {
				return err
			}
			d := res.Data
			if err := applyFlags(d); err != nil {
				return err
			}

			var doc map[string]any
			err = tracing.Phase(ctx, tracing.PhaseExport, func(context.Context) error {
				doc, err = d.Export()
				return err
			})
			if err != nil {
				return err
			}

			return tracing.Phase(ctx, tracing.PhaseWrite, func(context.Context) error {
				if out == "-" {
					return newFormatter(cmd, format).FormatSnapshot(doc)
				}
				return snapshot.Save(out, doc, format, cfg.Output.Indent)
			}, attribute.String(tracing.AttrSnapshotPath, out), attribute.String(tracing.AttrSnapshotFormat, string(format)))
		}, attribute.String(tracing.AttrSnapshotPath, in))
	},
}

func convertFormat(out string) (snapshot.Format, error) {
	if convertTo != "" {
		return snapshot.ParseFormat(convertTo)
	}
	if out != "-" {
		return snapshot.DetectFormat(out)
	}
	return outputFormat()
}

// applyFlags runs the requested flag changes. Each must take effect.
func applyFlags(d *data.Data) error {
	steps := []struct {
		keys []string
		op   string
		fn   func(string) (bool, error)
	}{
		{convertProtect, "protect", d.Protect},
		{convertEssential, "promote", d.Promote},
		{convertHide, "hide", func(k string) (bool, error) { return d.SetHidden(k, true) }},
	}
	for _, step := range steps {
		for _, k := range step.keys {
			if !d.Has(k) {
				return fmt.Errorf("%s %q: no such entry", step.op, k)
			}
			ok, err := step.fn(k)
			if err != nil {
				return fmt.Errorf("%s %q: %w", step.op, k, err)
			}
			if !ok {
				return fmt.Errorf("%s %q: refused", step.op, k)
			}
		}
	}
	if convertTypeAll {
		if _, err := d.SetAllTypings(false); err != nil {
			return fmt.Errorf("type-all: %w", err)
		}
	}
	if convertFreeze {
		d.Freeze()
	}
	return nil
}

func init() {
	convertCmd.Flags().StringVar(&convertTo, "to", "", "output format: json or yaml (default: from <out> extension)")
	convertCmd.Flags().StringArrayVar(&convertProtect, "protect", nil, "protect an entry (repeatable)")
	convertCmd.Flags().StringArrayVar(&convertEssential, "essential", nil, "mark an entry essential (repeatable)")
	convertCmd.Flags().StringArrayVar(&convertHide, "hide", nil, "hide an entry from listings (repeatable)")
	convertCmd.Flags().BoolVar(&convertTypeAll, "type-all", false, "lock every entry to its current type")
	convertCmd.Flags().BoolVar(&convertFreeze, "freeze", false, "freeze the container")
	rootCmd.AddCommand(convertCmd)
}
