package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/warden/internal/application/services"
	"github.com/reglet-dev/warden/internal/infrastructure/manifest"
)

func newApproveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "approve <manifest>",
		Short: "Approve a plugin's permissions without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			c, err := newContainer("")
			if err != nil {
				return err
			}
			defer closeContainer(c)

			decision, err := c.Approvals().Review(cmd.Context(), services.ApprovalRequest{
				Plugin:      m.Name,
				Version:     m.SemVer(),
				Permissions: m.Permissions,
				TrustAll:    yes,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(decision.New) == 0 {
				_, err = fmt.Fprintf(w, "%s v%s: nothing new to approve\n", m.Name, m.Version)
				return err
			}
			_, err = fmt.Fprintf(w, "%s v%s: approved %d capabilities (%d by rule)\n",
				m.Name, m.Version, len(decision.New), len(decision.AutoApproved))
			return err
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve without prompting")
	return cmd
}

func init() {
	rootCmd.AddCommand(newApproveCmd())
}
