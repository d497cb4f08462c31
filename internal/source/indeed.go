package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"jobalert/internal/model"
)

// Indeed scrapes the HTML search results page of an Indeed site.
type Indeed struct {
	client  HTTPClient
	baseURL string
}

// NewIndeed creates an Indeed source for the site at baseURL.
func NewIndeed(client HTTPClient, baseURL string) *Indeed {
	return &Indeed{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the source name.
func (s *Indeed) Name() string { return "indeed" }

// Fetch downloads the first results page for query and location.
func (s *Indeed) Fetch(ctx context.Context, query, location string) ([]model.Posting, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("l", location)

	header := http.Header{}
	header.Set("User-Agent", browserUserAgent)
	header.Set("Accept-Language", "nl-NL,nl;q=0.9,en;q=0.8")

	body, err := get(ctx, s.client, s.baseURL+"/jobs?"+params.Encode(), header)
	if err != nil {
		return nil, err
	}
	return parseIndeed(body, s.baseURL)
}

func parseIndeed(body []byte, baseURL string) ([]model.Posting, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", ErrParse, err)
	}

	blocks := doc.Find("div.job_seen_beacon")
	postings := make([]model.Posting, 0, blocks.Length())
	blocks.Each(func(_ int, b *goquery.Selection) {
		title := cleanText(b.Find("h2.jobTitle").First().Text())
		if title == "" {
			return
		}
		p := model.Posting{
			Title:    title,
			Company:  firstText(b, "span.companyName", `[data-testid="company-name"]`),
			Location: firstText(b, "div.companyLocation", `[data-testid="text-location"]`),
		}
		if jk := jobKey(b); jk != "" {
			p.Link = baseURL + "/viewjob?jk=" + url.QueryEscape(jk)
		}
		postings = append(postings, p)
	})

	if blocks.Length() > 0 && len(postings) == 0 {
		return nil, fmt.Errorf("%w: %d result blocks without a title", ErrParse, blocks.Length())
	}
	return postings, nil
}

func jobKey(b *goquery.Selection) string {
	if jk, ok := b.Attr("data-jk"); ok && jk != "" {
		return jk
	}
	return b.Find("[data-jk]").First().AttrOr("data-jk", "")
}

func firstText(b *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := cleanText(b.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
