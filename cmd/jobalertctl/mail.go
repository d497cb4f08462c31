package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobalert/internal/model"
)

var samplePosting = model.Posting{
	Title:    "Test Job Listing",
	Company:  "Test Company",
	Location: "Amsterdam",
	Link:     "https://example.com/jobs/test",
}

func newMailCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Mail delivery tools",
	}

	test := &cobra.Command{
		Use:   "test <to>",
		Short: "Send a sample notification to check the SMTP settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.mailer()
			if err != nil {
				return err
			}
			if err := n.Send(cmd.Context(), args[0], "test", samplePosting.Location, []model.Posting{samplePosting}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "test mail sent to %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(test)
	return cmd
}
