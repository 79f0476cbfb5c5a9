package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protdict/internal/snapshot"
	"github.com/zjrosen/protdict/internal/tracing"
	"github.com/zjrosen/protdict/pkg/data"
	"github.com/zjrosen/protdict/pkg/typereg"
)

// ErrRefused is returned when a protected or essential entry blocks a write without --force.
var ErrRefused = errors.New("refused")

var (
	setForce       bool
	setProtect     bool
	setTypes       []string
	setValidators  []string
	setDescription string
	eraseForce     bool
)

var getCmd = &cobra.Command{
	Use:   "get <snapshot> <key>",
	Short: "Print one entry's value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		env, err := newEnv()
		if err != nil {
			return err
		}
		var value any
		err = traced(cmd, func(ctx context.Context) error {
			res, _, err := loadData(ctx, env, args[0])
			if err != nil {
				return err
			}
			v, ok := res.Data.Get(args[1])
			if !ok {
				return fmt.Errorf("%s: no entry %q", args[0], args[1])
			}
			value = v
			return nil
		})
		if err != nil {
			return err
		}
		return newFormatter(cmd, format).FormatValue(value)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <snapshot> <key> <value>",
	Short: "Write one entry and save the snapshot",
	Long: `Write one entry and save the snapshot in place.

<value> is parsed as JSON; anything that is not valid JSON is stored as a string.
Protected and essential entries are only overwritten with --force. Frozen
entries and frozen containers are never written.

Examples:
  protdict set settings.json port 9090
  protdict set settings.json name '"api"' --protect --type string
  protdict set settings.json port 9091 --force`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, key := args[0], args[1]

		var opts []data.SlotOption
		if setProtect {
			opts = append(opts, data.WithProtected())
		}
		if len(setTypes) > 0 {
			types := make([]any, len(setTypes))
			for i, t := range setTypes {
				types[i] = t
			}
			opts = append(opts, data.WithTypes(types...))
		}
		if len(setValidators) > 0 {
			opts = append(opts, data.WithTags(setValidators...))
		}
		if setDescription != "" {
			opts = append(opts, data.WithDescription(setDescription))
		}

		return editSnapshot(cmd, path, func(d *data.Data) error {
			value, err := parseValue(d.Env(), args[2])
			if err != nil {
				return err
			}
			write := d.Set
			if setForce {
				write = d.OSet
			}
			ok, err := write(key, value, opts...)
			if err != nil {
				return fmt.Errorf("set %q: %w", key, err)
			}
			if !ok {
				return fmt.Errorf("set %q: %w: entry is protected (use --force)", key, ErrRefused)
			}
			return nil
		})
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase <snapshot> <key>",
	Short: "Remove one entry and save the snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, key := args[0], args[1]
		return editSnapshot(cmd, path, func(d *data.Data) error {
			if !d.Has(key) {
				return fmt.Errorf("erase %q: no such entry", key)
			}
			erase := d.Erase
			if eraseForce {
				erase = d.OErase
			}
			ok, err := erase(key)
			if err != nil {
				return fmt.Errorf("erase %q: %w", key, err)
			}
			if !ok {
				return fmt.Errorf("erase %q: %w: entry is protected (use --force)", key, ErrRefused)
			}
			return nil
		})
	},
}

// editSnapshot loads path, applies edit and writes the result back in the same format.
func editSnapshot(cmd *cobra.Command, path string, edit func(*data.Data) error) error {
	env, err := newEnv()
	if err != nil {
		return err
	}
	return traced(cmd, func(ctx context.Context) error {
		res, format, err := loadData(ctx, env, path)
		if err != nil {
			return err
		}
		if err := edit(res.Data); err != nil {
			return err
		}
		doc, err := res.Data.Export()
		if err != nil {
			return err
		}
		return tracing.Phase(ctx, tracing.PhaseWrite, func(context.Context) error {
			return snapshot.Save(path, doc, format, cfg.Output.Indent)
		}, attribute.String(tracing.AttrSnapshotPath, path))
	}, attribute.String(tracing.AttrSnapshotPath, path))
}

// parseValue decodes raw as JSON, falling back to the raw string.
func parseValue(env *data.Env, raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw, nil
	}
	return env.Types.Import(typereg.Normalize(v))
}

func init() {
	setCmd.Flags().BoolVar(&setForce, "force", false, "overwrite protected and essential entries")
	setCmd.Flags().BoolVar(&setProtect, "protect", false, "protect the entry")
	setCmd.Flags().StringArrayVar(&setTypes, "type", nil, "lock the entry to a registered type name (repeatable)")
	setCmd.Flags().StringArrayVar(&setValidators, "validator", nil, "attach a validator tag (repeatable)")
	setCmd.Flags().StringVar(&setDescription, "description", "", "entry description")
	eraseCmd.Flags().BoolVar(&eraseForce, "force", false, "erase protected entries")
	rootCmd.AddCommand(getCmd, setCmd, eraseCmd)
}
