// Package source retrieves job postings from external job sites.
package source

import (
	"context"
	"errors"
	"fmt"

	"jobalert/internal/config"
	"jobalert/internal/model"
)

// Source failures. Every error returned by a JobSource wraps one of these.
var (
	ErrUnavailable = errors.New("source unavailable")
	ErrRateLimited = errors.New("source rate limited")
	ErrParse       = errors.New("source response could not be parsed")
)

// JobSource fetches postings for a search query and location.
// The returned slice keeps source order and may be empty.
type JobSource interface {
	Fetch(ctx context.Context, query, location string) ([]model.Posting, error)
	Name() string
}

// Kind returns a short label for a source error, used in logs and metrics.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "unknown"
	}
}

// New builds the source selected by cfg.Source.
func New(cfg *config.Config, client HTTPClient) (JobSource, error) {
	switch cfg.Source {
	case config.SourceIndeed:
		return NewIndeed(client, cfg.IndeedBaseURL), nil
	case config.SourceSerpAPI:
		return NewSerpAPI(client, SerpAPIOptions{
			BaseURL:       cfg.SerpAPIBaseURL,
			APIKey:        cfg.SerpAPIKey,
			Language:      cfg.SerpAPILanguage,
			Country:       cfg.SerpAPICountry,
			MaxPages:      cfg.SerpAPIMaxPages,
			TargetResults: cfg.SerpAPITargetResults,
			PageDelay:     cfg.SerpAPIPageDelay,
		}), nil
	case config.SourceRSS:
		return NewRSS(client, cfg.RSSURLTemplate), nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}
