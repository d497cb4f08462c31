package model

import "time"

// Outcome is the terminal state of one alert within a pass.
type Outcome string

// Alert outcomes.
const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeNoNew       Outcome = "no_new"
	OutcomeNotified    Outcome = "notified"
	OutcomeSourceError Outcome = "source_error"
	OutcomeFailed      Outcome = "failed"
)

// AlertResult describes what a pass did with a single alert.
type AlertResult struct {
	AlertID     int64
	Outcome     Outcome
	NewCount    int
	DeliveryErr error
	Err         error
}

// PassReport summarizes one pass over the active alerts.
type PassReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []AlertResult
}

// Count returns the number of results with the given outcome.
func (r PassReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// DeliveryFailures returns the number of alerts whose notification could not
// be delivered.
func (r PassReport) DeliveryFailures() int {
	n := 0
	for _, res := range r.Results {
		if res.DeliveryErr != nil {
			n++
		}
	}
	return n
}

// HasFailures reports whether any alert ended in an error state or failed to
// deliver its notification.
func (r PassReport) HasFailures() bool {
	return r.Count(OutcomeSourceError) > 0 || r.Count(OutcomeFailed) > 0 || r.DeliveryFailures() > 0
}

// Result returns the result recorded for the given alert, if any.
func (r PassReport) Result(alertID int64) (AlertResult, bool) {
	for _, res := range r.Results {
		if res.AlertID == alertID {
			return res, true
		}
	}
	return AlertResult{}, false
}
