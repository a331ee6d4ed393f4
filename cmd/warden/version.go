package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/warden/internal/version"
)

// versionCmd implements the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of warden",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "warden version %s\n", version.Get().Full())
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
