package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/protdict/internal/config"
	"github.com/zjrosen/protdict/pkg/validate"
)

var validatorsCmd = &cobra.Command{
	Use:   "validators",
	Short: "Manage tag validators in the config file",
	Long: `List, add or remove the validator rules attached to tags.

Rules: nonempty, positive, nonnegative, min=N, max=N, oneof=a|b|c, match=REGEX.
Entries carrying a tag (set with "set --validator TAG") are checked against
its rules on every load and write.`,
}

var validatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the configured validators",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		validators := cfg.Validators
		if validators == nil {
			validators = map[string][]string{}
		}
		return newFormatter(cmd, format).FormatValue(validators)
	},
}

var validatorsAddCmd = &cobra.Command{
	Use:   "add <tag> <rule>",
	Short: "Append a rule to a tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, rule := args[0], args[1]
		if _, err := validate.Rule(rule); err != nil {
			return err
		}
		path := writableConfigPath()
		if err := config.AddValidatorRule(path, tag, rule, cfg.Validators); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s in %s\n", rule, tag, path)
		return err
	},
}

var validatorsRemoveCmd = &cobra.Command{
	Use:   "remove <tag>",
	Short: "Remove every rule of a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := writableConfigPath()
		if err := config.RemoveValidatorTag(path, args[0], cfg.Validators); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", args[0], path)
		return err
	},
}

// writableConfigPath is the loaded config file, or the default path when none was found.
func writableConfigPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigPath
}

func init() {
	validatorsCmd.AddCommand(validatorsListCmd, validatorsAddCmd, validatorsRemoveCmd)
	rootCmd.AddCommand(validatorsCmd)
}
