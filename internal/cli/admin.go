package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

func (a *app) adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Account administration",
	}

	var handle, role string
	promote := &cobra.Command{
		Use:   "promote",
		Short: "Set the role of a profile",
		Long: `Promote sets the role of the profile with the given handle. It is the
way to bootstrap the first administrator.

Example:
  lfctl admin promote --handle alice
  lfctl admin promote --handle bob --role user`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			parsed, err := enums.ParseProfileRole(strings.ToLower(strings.TrimSpace(role)))
			if err != nil {
				return err
			}
			return a.withBackend(c.Context(), func(b *Backend) error {
				ctx := c.Context()
				profile, err := b.Profiles.GetByHandle(ctx, policy.System, handle)
				if err != nil {
					return fmt.Errorf("find %q: %w", handle, err)
				}
				updated, err := b.Profiles.SetRole(ctx, policy.System, profile.ID, parsed)
				if err != nil {
					return fmt.Errorf("set role: %w", err)
				}
				a.logg.Info(a.logg.WithFields(ctx, map[string]any{"profile_id": updated.ID, "role": updated.Role}), "cli.role_changed")
				fmt.Fprintf(a.out, "%s is now %s\n", updated.Handle, updated.Role)
				return nil
			})
		},
	}
	promote.Flags().StringVar(&handle, "handle", "", "profile handle (required)")
	promote.Flags().StringVar(&role, "role", string(enums.ProfileRoleAdmin), "role to assign: admin or user")
	_ = promote.MarkFlagRequired("handle")

	cmd.AddCommand(promote)
	return cmd
}
