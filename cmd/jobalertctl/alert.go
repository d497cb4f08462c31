package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"jobalert/internal/bot"
	"jobalert/internal/model"
	"jobalert/internal/scheduler"
)

func newAlertCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Manage alerts",
	}

	var location, frequency string
	add := &cobra.Command{
		Use:   "add <email> <query>",
		Short: "Create an active alert for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			freq, err := model.ParseFrequency(frequency)
			if err != nil {
				return err
			}
			u, err := a.store.GetUserByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("user %s: %w", args[0], err)
			}
			alert := &model.Alert{
				UserID:        u.ID,
				Query:         args[1],
				Location:      location,
				Frequency:     freq,
				LastCheckedAt: a.now().UTC(),
				IsActive:      true,
			}
			if err := a.store.CreateAlert(ctx, alert); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created alert #%d %q for %s (%s)\n", alert.ID, alert.Query, u.Email, alert.Frequency)
			return nil
		},
	}
	add.Flags().StringVar(&location, "location", "", "search location (default: the configured default location)")
	add.Flags().StringVar(&frequency, "frequency", string(model.FrequencyDaily), "daily, weekly or monthly")

	list := &cobra.Command{
		Use:   "list [email]",
		Short: "List active alerts, or all alerts of one user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				alerts []model.Alert
				err    error
			)
			if len(args) == 1 {
				u, uerr := a.store.GetUserByEmail(ctx, args[0])
				if uerr != nil {
					return fmt.Errorf("user %s: %w", args[0], uerr)
				}
				alerts, err = a.store.ListAlertsByUser(ctx, u.ID)
			} else {
				alerts, err = a.store.ListActiveAlerts(ctx)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tQUERY\tLOCATION\tFREQUENCY\tACTIVE\tLAST CHECK\tSENT")
			for _, al := range alerts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%s\t%d\n",
					al.ID, al.OwnerEmail, al.Query, al.Location, al.Frequency, al.IsActive,
					humanize.RelTime(al.LastCheckedAt, a.now(), "ago", "from now"), len(al.SentIDs))
			}
			return w.Flush()
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip an alert between active and paused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := bot.ParseIDArg(args[0])
			if err != nil {
				return err
			}
			al, err := a.store.GetAlert(ctx, id)
			if err != nil {
				return fmt.Errorf("alert #%d: %w", id, err)
			}
			if err := a.store.SetAlertActive(ctx, id, !al.IsActive); err != nil {
				return err
			}
			state := "active"
			if al.IsActive {
				state = "paused"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "alert #%d is now %s\n", id, state)
			return nil
		},
	}

	var ago time.Duration
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Move the last check of every alert into the past so all become due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			at := a.now().UTC().Add(-ago)
			n, err := a.store.ResetLastChecks(cmd.Context(), at)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s alert(s) to %s\n", humanize.Comma(n), at.Format(time.RFC3339))
			return nil
		},
	}
	reset.Flags().DurationVar(&ago, "ago", 48*time.Hour, "how far back to set the last check")

	check := &cobra.Command{
		Use:   "check <id>",
		Short: "Check one alert now and mail any new postings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bot.ParseIDArg(args[0])
			if err != nil {
				return err
			}
			src, err := a.jobSource()
			if err != nil {
				return err
			}
			n, err := a.mailer()
			if err != nil {
				return err
			}

			sched := scheduler.New(a.store, src, n, a.log)
			sched.SetClock(a.now)
			sched.SetDefaultLocation(a.cfg.DefaultLocation)
			if a.cfg.FetchTimeout > 0 {
				sched.SetFetchTimeout(a.cfg.FetchTimeout)
			}
			if a.cfg.SentIDsRetain > 0 && a.cfg.SentIDsMaxBytes > 0 {
				sched.SetRetention(a.cfg.SentIDsRetain, a.cfg.SentIDsMaxBytes)
			}

			res, err := sched.CheckAlert(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bot.FormatCheckResult(res))
			if res.Err != nil {
				return res.Err
			}
			return nil
		},
	}

	cmd.AddCommand(add, list, toggle, reset, check)
	return cmd
}
