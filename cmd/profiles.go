// File: cmd/profiles.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/canary-cli/internal/observability"
	"github.com/xkilldash9x/canary-cli/internal/store"
)

// newProfilesCmd lists the configured login profiles. Values are never printed.
func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Lists the configured login profile names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			profiles, err := store.LoadProfiles(cfg.Target.ProfilesFile, observability.GetLogger())
			if err != nil {
				return err
			}

			names := profiles.Names()
			if len(names) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No login profiles found in %s\n", profiles.Path())
				return nil
			}
			for _, name := range names {
				marker := " "
				if name == cfg.Target.LoginProfile {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}
