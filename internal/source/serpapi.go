package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jobalert/internal/model"
)

// SerpAPIOptions configures a SerpAPI source.
type SerpAPIOptions struct {
	BaseURL  string
	APIKey   string
	Language string
	Country  string
	// MaxPages caps the number of requests per fetch.
	MaxPages int
	// TargetResults stops pagination once at least this many postings are
	// collected. Zero disables the check.
	TargetResults int
	PageDelay     time.Duration
}

// SerpAPI queries the Google Jobs engine of SerpAPI, following
// next-page tokens up to the configured page cap.
type SerpAPI struct {
	client HTTPClient
	opts   SerpAPIOptions
}

// NewSerpAPI creates a SerpAPI source.
func NewSerpAPI(client HTTPClient, opts SerpAPIOptions) *SerpAPI {
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	return &SerpAPI{client: client, opts: opts}
}

// Name returns the source name.
func (s *SerpAPI) Name() string { return "serpapi" }

type serpResponse struct {
	Error       string    `json:"error"`
	JobsResults []serpJob `json:"jobs_results"`
	Pagination  struct {
		NextPageToken string `json:"next_page_token"`
	} `json:"serpapi_pagination"`
}

type serpJob struct {
	Title        string `json:"title"`
	CompanyName  string `json:"company_name"`
	Location     string `json:"location"`
	ShareLink    string `json:"share_link"`
	ApplyOptions []struct {
		Title string `json:"title"`
		Link  string `json:"link"`
	} `json:"apply_options"`
}

// Fetch collects postings page by page. A failure on any page fails the
// whole fetch so the alert is retried in a later pass.
func (s *SerpAPI) Fetch(ctx context.Context, query, location string) ([]model.Posting, error) {
	var (
		postings []model.Posting
		token    string
	)
	for page := 0; page < s.opts.MaxPages; page++ {
		if page > 0 {
			if err := sleep(ctx, s.opts.PageDelay); err != nil {
				return nil, fmt.Errorf("%w: page delay: %w", ErrUnavailable, err)
			}
		}

		resp, err := s.fetchPage(ctx, query, location, token)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page+1, err)
		}
		for _, j := range resp.JobsResults {
			if p, ok := j.posting(); ok {
				postings = append(postings, p)
			}
		}

		token = resp.Pagination.NextPageToken
		if token == "" || len(resp.JobsResults) == 0 {
			break
		}
		if s.opts.TargetResults > 0 && len(postings) >= s.opts.TargetResults {
			break
		}
	}
	return postings, nil
}

func (s *SerpAPI) fetchPage(ctx context.Context, query, location, token string) (*serpResponse, error) {
	params := url.Values{}
	params.Set("engine", "google_jobs")
	params.Set("q", query)
	if location != "" {
		params.Set("location", location)
	}
	if s.opts.Language != "" {
		params.Set("hl", s.opts.Language)
	}
	if s.opts.Country != "" {
		params.Set("gl", s.opts.Country)
	}
	params.Set("chips", "date_posted:today")
	params.Set("api_key", s.opts.APIKey)
	if token != "" {
		params.Set("next_page_token", token)
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	body, err := get(ctx, s.client, s.opts.BaseURL+"?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}

	var resp serpResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: json unmarshal: %w", ErrParse, err)
	}
	if resp.Error != "" {
		if isNoResults(resp.Error) {
			return &serpResponse{}, nil
		}
		return nil, fmt.Errorf("%w: api error: %s", ErrParse, resp.Error)
	}
	return &resp, nil
}

func (j serpJob) posting() (model.Posting, bool) {
	title := strings.TrimSpace(j.Title)
	if title == "" {
		return model.Posting{}, false
	}
	p := model.Posting{
		Title:    title,
		Company:  strings.TrimSpace(j.CompanyName),
		Location: strings.TrimSpace(j.Location),
		Link:     j.ShareLink,
	}
	for _, o := range j.ApplyOptions {
		if o.Link == "" {
			continue
		}
		p.ApplyLinks = append(p.ApplyLinks, model.ApplyLink{Title: o.Title, Link: o.Link})
	}
	if p.Link == "" && len(p.ApplyLinks) > 0 {
		p.Link = p.ApplyLinks[0].Link
	}
	return p, true
}

func isNoResults(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "returned any results") || strings.Contains(msg, "no results")
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
