package cmd

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protdict/internal/presentation"
	"github.com/zjrosen/protdict/pkg/data"
)

var (
	keysTags     []string
	keysHidden   bool
	keysTable    bool
	keysDescribe bool
)

var knownTags = []string{
	data.TagProtected, data.TagTyped, data.TagKwarg,
	data.TagEssential, data.TagFrozen, data.TagHidden, data.TagNone,
}

var keysCmd = &cobra.Command{
	Use:   "keys <snapshot>",
	Short: "List a snapshot's entries with their tags",
	Long: `List the entries of a snapshot with their tags, type locks and validators.

Hidden entries are left out unless --hidden is given. --tag keeps entries
carrying any of the listed tags: protected, typed, kwarg, essential, frozen,
hidden, none.

Examples:
  protdict keys settings.json
  protdict keys settings.json --tag protected --tag typed --table
  protdict keys settings.json --describe`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, tag := range keysTags {
			if !slices.Contains(knownTags, tag) {
				return fmt.Errorf("unknown tag %q", tag)
			}
		}
		format, err := outputFormat()
		if err != nil {
			return err
		}
		env, err := newEnv()
		if err != nil {
			return err
		}

		var entries []presentation.EntryDTO
		err = traced(cmd, func(ctx context.Context) error {
			res, _, err := loadData(ctx, env, args[0])
			if err != nil {
				return err
			}
			includeHidden := keysHidden || slices.Contains(keysTags, data.TagHidden)
			entries = filterByTags(presentation.FromData(res.Data, includeHidden), keysTags)
			return nil
		})
		if err != nil {
			return err
		}

		f := newFormatter(cmd, format)
		switch {
		case keysDescribe:
			return f.FormatMarkdown(presentation.DescribeMarkdown(args[0], entries), 100)
		case keysTable:
			return f.FormatTable(entries)
		default:
			return f.FormatEntries(entries)
		}
	},
}

// filterByTags keeps entries carrying any of tags. No tags keeps everything.
func filterByTags(entries []presentation.EntryDTO, tags []string) []presentation.EntryDTO {
	if len(tags) == 0 {
		return entries
	}
	out := make([]presentation.EntryDTO, 0, len(entries))
	for _, e := range entries {
		for _, tag := range tags {
			if slices.Contains(e.Tags, tag) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func init() {
	keysCmd.Flags().StringArrayVarP(&keysTags, "tag", "t", nil, "keep entries carrying this tag (repeatable)")
	keysCmd.Flags().BoolVar(&keysHidden, "hidden", false, "include hidden entries")
	keysCmd.Flags().BoolVar(&keysTable, "table", false, "print an aligned text table")
	keysCmd.Flags().BoolVar(&keysDescribe, "describe", false, "render a markdown description")
	rootCmd.AddCommand(keysCmd)
}
