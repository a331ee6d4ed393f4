package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/warden/internal/domain/permissions"
	"github.com/reglet-dev/warden/internal/infrastructure/capabilities"
	"github.com/reglet-dev/warden/internal/infrastructure/manifest"
	"github.com/reglet-dev/warden/internal/infrastructure/output"
	"github.com/reglet-dev/warden/internal/infrastructure/system"
)

func newInspectCmd() *cobra.Command {
	var format string
	var noColor bool

	cmd := &cobra.Command{
		Use:   "inspect <manifest>",
		Short: "Show the capabilities and limits a plugin asks for",
		Long: `Inspect validates the manifest and lists each requested capability with
its risk level and whether it has been approved. Nothing is executed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			cfg, err := system.NewConfigLoader().Load(cfgFile)
			if err != nil {
				return err
			}
			var prev *permissions.Approval
			approval, found, err := capabilities.NewFileStore(cfg.GrantsFile).Get(m.Name)
			if err != nil {
				return err
			}
			if found {
				prev = &approval
			}

			formatter, err := output.NewFormatterFactory().Create(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if table, ok := formatter.(*output.TableFormatter); ok {
				table.EnableColor = !noColor
			}
			return formatter.Format(output.NewPluginReport(m, prev))
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", fmt.Sprintf("output format: %v", output.NewFormatterFactory().SupportedFormats()))
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

func init() {
	rootCmd.AddCommand(newInspectCmd())
}
