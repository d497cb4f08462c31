// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Frequency governs the minimum interval between two checks of an alert.
type Frequency string

// Supported frequencies.
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ParseFrequency validates a frequency name. An empty value means daily.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case "", FrequencyDaily:
		return FrequencyDaily, nil
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	case FrequencyMonthly:
		return FrequencyMonthly, nil
	}
	return "", fmt.Errorf("invalid frequency %q, use: daily, weekly, monthly", s)
}

// Interval returns the minimum re-check interval for the frequency.
// Unknown values fall back to the daily interval.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// User is a registered account that owns alerts.
type User struct {
	ID               int64
	Email            string
	PasswordHash     string
	ResetToken       *string
	ResetTokenExpiry *time.Time
	CreatedAt        time.Time
}

// Alert is a stored job-search subscription.
type Alert struct {
	ID     int64
	UserID int64
	// OwnerEmail is read from the owning user and never written through an alert.
	OwnerEmail    string
	Query         string
	Location      string
	Frequency     Frequency
	LastCheckedAt time.Time
	IsActive      bool
	// SentIDs holds posting identities already notified, oldest first.
	SentIDs   []string
	CreatedAt time.Time
}

// ApplyLink is a structured "apply" sub-link of a posting.
type ApplyLink struct {
	Title string
	Link  string
}

// Posting is a single job listing returned by a source. It is never persisted.
type Posting struct {
	Title      string
	Company    string
	Location   string
	Link       string
	ApplyLinks []ApplyLink
}

// EncodeSentIDs serializes a sent-set into the text stored in the database.
func EncodeSentIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		// []string always marshals.
		panic(err)
	}
	return string(b)
}

// DecodeSentIDs parses the stored sent-set text.
// Empty text and malformed JSON both decode to an empty set.
func DecodeSentIDs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}
