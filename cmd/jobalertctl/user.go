package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var password string
	add := &cobra.Command{
		Use:   "add <email>",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("JOBALERT_PASSWORD")
			}
			u, err := a.accounts().Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d %s\n", u.ID, u.Email)
			return nil
		},
	}
	add.Flags().StringVar(&password, "password", "", "initial password (default $JOBALERT_PASSWORD)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			users, err := a.store.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tJOINED")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.Email, humanize.RelTime(u.CreatedAt, a.now(), "ago", "from now"))
			}
			return w.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <email>",
		Short: "Delete a user and all of their alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.store.GetUserByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("user %s: %w", args[0], err)
			}
			alerts, err := a.store.ListAlertsByUser(ctx, u.ID)
			if err != nil {
				return err
			}
			if err := a.store.DeleteUser(ctx, u.ID); err != nil {
				return err
			}
			a.log.Info("user deleted", "user_id", u.ID, "alerts", len(alerts))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted user %s and %d alert(s)\n", u.Email, len(alerts))
			return nil
		},
	}

	setPassword := &cobra.Command{
		Use:   "set-password <email> <password>",
		Short: "Replace a user's password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.accounts().SetPassword(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
			return nil
		},
	}

	resetRequest := &cobra.Command{
		Use:   "reset-request <email>",
		Short: "Issue a password reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := a.accounts().RequestPasswordReset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <token> <password>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.accounts().ResetPassword(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password reset")
			return nil
		},
	}

	cmd.AddCommand(add, list, del, setPassword, resetRequest, reset)
	return cmd
}
