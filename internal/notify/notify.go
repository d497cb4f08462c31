// Package notify delivers new job postings to alert owners.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"jobalert/internal/model"
)

// ErrDelivery wraps every failure to hand a notification to the mail server.
var ErrDelivery = errors.New("notification delivery failed")

// Notifier sends the postings found for one alert to its owner.
type Notifier interface {
	Send(ctx context.Context, to, query, location string, postings []model.Posting) error
}

// Subject returns the mail subject for an alert query.
func Subject(query string) string {
	return fmt.Sprintf("New jobs for %q", query)
}

// RenderText renders the plain-text body.
func RenderText(query, location string, postings []model.Posting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new job postings found for your search %q", len(postings), query)
	if location != "" {
		fmt.Fprintf(&b, " in %s", location)
	}
	b.WriteString(":\n\n")
	for _, p := range postings {
		fmt.Fprintf(&b, "Title: %s\n", p.Title)
		if p.Company != "" {
			fmt.Fprintf(&b, "Company: %s\n", p.Company)
		}
		if p.Location != "" {
			fmt.Fprintf(&b, "Location: %s\n", p.Location)
		}
		if p.Link != "" {
			fmt.Fprintf(&b, "Link: %s\n", p.Link)
		}
		for _, a := range p.ApplyLinks {
			fmt.Fprintf(&b, "Apply via %s: %s\n", a.Title, a.Link)
		}
		b.WriteString(strings.Repeat("-", 50))
		b.WriteString("\n")
	}
	return b.String()
}

var htmlBody = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<p>{{len .Postings}} new job postings found for <strong>{{.Query}}</strong>{{if .Location}} in {{.Location}}{{end}}:</p>
<ul>
{{- range .Postings}}
<li style="margin-bottom: 12px;">
{{- if .Link}}<a href="{{.Link}}">{{.Title}}</a>{{else}}<strong>{{.Title}}</strong>{{end}}
{{- if .Company}}<br>{{.Company}}{{end}}
{{- if .Location}}<br>{{.Location}}{{end}}
{{- if .ApplyLinks}}<br>Apply:{{range $i, $a := .ApplyLinks}}{{if $i}},{{end}} <a href="{{$a.Link}}">{{$a.Title}}</a>{{end}}{{end}}
</li>
{{- end}}
</ul>
</body>
</html>
`))

// RenderHTML renders the HTML alternative. Values are escaped and unsafe
// link schemes are neutralized.
func RenderHTML(query, location string, postings []model.Posting) (string, error) {
	var buf bytes.Buffer
	err := htmlBody.Execute(&buf, struct {
		Query    string
		Location string
		Postings []model.Posting
	}{query, location, postings})
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
