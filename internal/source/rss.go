package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"jobalert/internal/model"
)

// RSS reads postings from a job board that publishes search results as a feed.
// The URL template may contain {query} and {location} placeholders.
type RSS struct {
	client   HTTPClient
	template string
}

// NewRSS creates an RSS source.
func NewRSS(client HTTPClient, template string) *RSS {
	return &RSS{client: client, template: template}
}

// Name returns the source name.
func (s *RSS) Name() string { return "rss" }

// Fetch downloads and parses the feed for query and location.
func (s *RSS) Fetch(ctx context.Context, query, location string) ([]model.Posting, error) {
	feedURL := strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{location}", url.QueryEscape(location),
	).Replace(s.template)

	header := http.Header{}
	header.Set("User-Agent", "JobAlert/1.0")

	body, err := get(ctx, s.client, feedURL, header)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %w", ErrParse, err)
	}

	postings := make([]model.Posting, 0, len(feed.Items))
	for _, item := range feed.Items {
		title := cleanText(item.Title)
		if title == "" {
			continue
		}
		var company string
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			company = cleanText(item.Authors[0].Name)
		}
		postings = append(postings, model.Posting{
			Title:    title,
			Company:  company,
			Location: location,
			Link:     item.Link,
		})
	}
	return postings, nil
}
