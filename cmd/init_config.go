package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protdict/internal/config"
)

var (
	initPath  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"init-config"},
	Short:   "Write a commented default config file",
	Long: `Write the default configuration, with comments, to .protdict/config.yaml
or the path given by --path. An existing file is kept unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(initPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", initPath)
		}
		if err := config.WriteDefaultConfig(initPath); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", initPath)
		return err
	},
}

func init() {
	initCmd.Flags().StringVar(&initPath, "path", defaultConfigPath, "where to write the config file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
