package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cabildo/internal/admin"
	"cabildo/internal/platform/config"
	"cabildo/internal/platform/logger"
)

// newAdminCmd groups operator account provisioning. Provisional passwords are
// printed exactly once; the service only stores the hash.
func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage operator accounts",
	}
	cmd.AddCommand(
		newAdminAddCmd(),
		newAdminListCmd(),
		newAdminShowCmd(),
		newAdminRenameCmd(),
		newAdminSetPasswordCmd(),
		newAdminResetPasswordCmd(),
		newAdminUnlockCmd(),
		newAdminDeleteCmd(),
	)
	return cmd
}

// withAdminService wires the account service against the configured database
// for one CLI invocation.
func withAdminService(ctx context.Context, fn func(context.Context, *admin.Service) error) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	svc, err := buildServices(ctx, cfg, logger.New(cfg.IsProduction()), false)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc.admins)
}

func newAdminAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an operator account with a provisional password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminService(cmd.Context(), func(ctx context.Context, admins *admin.Service) error {
				account, temp, err := admins.CreateAccount(ctx, name, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("created %s (%s)\n", account.Username, account.Name)
				fmt.Printf("provisional password: %s\n", temp)
				fmt.Println("the operator must change it on first login")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newAdminListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List operator accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdminService(cmd.Context(), func(ctx context.Context, admins *admin.Service) error {
				accounts, err := admins.List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "USERNAME\tNAME\tSTATUS\tLAST LOGIN")
				for _, a := range accounts {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Username, a.Name, accountStatus(a), lastLogin(a))
				}
				return w.Flush()
			})
		},
	}
}

func newAdminShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <username>",
		Short: "Show one operator account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminService(cmd.Context(), func(ctx context.Context, admins *admin.Service) error {
				a, err := admins.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("username: %s\n", a.Username)
				fmt.Printf("name: %s\n", a.Name)
				fmt.Printf("status: %s\n", accountStatus(a))
				fmt.Printf("must change password: %v\n", a.MustChangePassword)
				fmt.Printf("failed attempts: %d (lockouts: %d)\n", a.FailedAttempts, a.LockoutsCount)
				fmt.Printf("last login: %s\n", lastLogin(a))
				return nil
			})
		},
	}
}

func newAdminRenameCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rename <username>",
		Short: "Change the display name of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminService(cmd.Context(), func(ctx context.Context, admins *admin.Service) error {
				return admins.UpdateName(ctx, args[0], name)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newAdminSetPasswordCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "set-password <username>",
		Short: "Install a chosen password directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminService(cmd.Context(), func(ctx context.Context, admins *admin.Service) error {
				return admins.SetPassword(ctx, args[0], password)
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newAdminResetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <username>",
		Short: "Issue a fresh provisional password and unlock the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminService(cmd.Context(), func(ctx context.Context, admins *admin.Service) error {
				temp, err := admins.ResetPassword(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("provisional password: %s\n", temp)
				return nil
			})
		},
	}
}

func newAdminUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <username>",
		Short: "Clear the lockout state of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminService(cmd.Context(), func(ctx context.Context, admins *admin.Service) error {
				return admins.Unlock(ctx, args[0])
			})
		},
	}
}

func newAdminDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete an operator account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete without --yes")
			}
			return withAdminService(cmd.Context(), func(ctx context.Context, admins *admin.Service) error {
				return admins.DeleteAccount(ctx, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func accountStatus(a *admin.Account) string {
	switch {
	case a.PermanentlyLocked:
		return "locked (permanent)"
	case a.LockUntil != nil:
		return "locked until " + a.LockUntil.Format("2006-01-02 15:04:05 MST")
	default:
		return "active"
	}
}

func lastLogin(a *admin.Account) string {
	if a.LastLoginAt == nil {
		return "never"
	}
	return a.LastLoginAt.Format("2006-01-02 15:04:05 MST")
}
