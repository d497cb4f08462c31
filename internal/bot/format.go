package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"jobalert/internal/model"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

func alertStatus(a model.Alert) string {
	if a.IsActive {
		return statusActive
	}
	return statusPaused
}

func since(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatPassSummary formats a pass report for the operator chat.
func FormatPassSummary(r model.PassReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pass finished %s in %s\n",
		r.FinishedAt.UTC().Format("2006-01-02 15:04 UTC"),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "%s alerts: %d notified, %d without news, %d skipped\n",
		humanize.Comma(int64(len(r.Results))),
		r.Count(model.OutcomeNotified),
		r.Count(model.OutcomeNoNew),
		r.Count(model.OutcomeSkipped))

	if !r.HasFailures() {
		return b.String()
	}

	fmt.Fprintf(&b, "\nSource errors: %d, failed: %d, delivery failures: %d\n",
		r.Count(model.OutcomeSourceError), r.Count(model.OutcomeFailed), r.DeliveryFailures())
	for _, res := range r.Results {
		switch {
		case res.Outcome == model.OutcomeSourceError || res.Outcome == model.OutcomeFailed:
			fmt.Fprintf(&b, "  #%d %s: %v\n", res.AlertID, res.Outcome, res.Err)
		case res.DeliveryErr != nil:
			fmt.Fprintf(&b, "  #%d delivery: %v\n", res.AlertID, res.DeliveryErr)
		}
	}
	return b.String()
}

// FormatCheckResult formats the outcome of a forced check.
func FormatCheckResult(res model.AlertResult) string {
	switch res.Outcome {
	case model.OutcomeNotified:
		if res.DeliveryErr != nil {
			return fmt.Sprintf("#%d: %d new posting(s), but the mail failed: %v", res.AlertID, res.NewCount, res.DeliveryErr)
		}
		return fmt.Sprintf("#%d: %d new posting(s) mailed.", res.AlertID, res.NewCount)
	case model.OutcomeNoNew:
		return fmt.Sprintf("#%d: no new postings.", res.AlertID)
	case model.OutcomeSourceError, model.OutcomeFailed:
		return fmt.Sprintf("#%d: %s: %v", res.AlertID, res.Outcome, res.Err)
	default:
		return fmt.Sprintf("#%d: %s.", res.AlertID, res.Outcome)
	}
}

// FormatUserList formats registered users.
func FormatUserList(users []model.User, now time.Time) string {
	if len(users) == 0 {
		return "No users registered."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d users:\n", len(users))
	for _, u := range users {
		fmt.Fprintf(&b, "\n%d %s (joined %s)", u.ID, u.Email, since(u.CreatedAt, now))
	}
	return b.String()
}

// FormatAlertList formats the alerts of one user.
func FormatAlertList(email string, alerts []model.Alert, now time.Time) string {
	if len(alerts) == 0 {
		return fmt.Sprintf("%s has no alerts.", email)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Alerts of %s:\n", email)
	for _, a := range alerts {
		fmt.Fprintf(&b, "\n#%d %q in %s (%s) [%s]\n", a.ID, a.Query, locationLabel(a.Location), a.Frequency, alertStatus(a))
		fmt.Fprintf(&b, "   checked %s\n", since(a.LastCheckedAt, now))
	}
	return b.String()
}

// FormatAlertInfo formats detailed information about a single alert.
func FormatAlertInfo(a *model.Alert, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %q [%s]\n", a.ID, a.Query, alertStatus(*a))
	fmt.Fprintf(&b, "Owner: %s\n", a.OwnerEmail)
	fmt.Fprintf(&b, "Location: %s\n", locationLabel(a.Location))
	fmt.Fprintf(&b, "Frequency: %s\n", a.Frequency)
	fmt.Fprintf(&b, "Last check: %s (%s)\n", a.LastCheckedAt.UTC().Format("2006-01-02 15:04 UTC"), since(a.LastCheckedAt, now))
	fmt.Fprintf(&b, "Remembered postings: %d\n", len(a.SentIDs))
	return b.String()
}

func locationLabel(loc string) string {
	if loc == "" {
		return "default location"
	}
	return loc
}
