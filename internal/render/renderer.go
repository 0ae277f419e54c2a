// Package render turns a shared content batch into one recipient's digest.
//
// Rendering is pure: the output depends only on the batch, the recipient and
// the cadence, so two calls with the same inputs produce identical bytes.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"

	"NewsDigest/internal/domain"
)

// Placeholder is rendered instead of an empty item list.
const Placeholder = "No news articles available at the moment."

const noCategories = "none"

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer holds the parsed digest templates. It is safe for concurrent use.
type Renderer struct {
	html   *htmltemplate.Template
	text   *texttemplate.Template
	policy *bluemonday.Policy
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	htmlTpl, err := htmltemplate.ParseFS(templatesFS, "templates/digest.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}

	textTpl, err := texttemplate.New("digest.txt.tmpl").
		Funcs(texttemplate.FuncMap{"inc": func(i int) int { return i + 1 }}).
		ParseFS(templatesFS, "templates/digest.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}

	return &Renderer{
		html:   htmlTpl,
		text:   textTpl,
		policy: bluemonday.StrictPolicy(),
	}, nil
}

// Subject returns the static subject line for a cadence.
func Subject(cadence domain.Frequency) string {
	switch cadence {
	case domain.FrequencyWeekly:
		return "Weekly News Update"
	default:
		return "Daily News Update"
	}
}

type itemView struct {
	Title     string
	Summary   string
	Source    string
	URL       string
	ImageURL  string
	Published string
}

type digestView struct {
	Subject     string
	Username    string
	Intro       string
	Cadence     string
	Categories  string
	Placeholder string
	Items       []itemView
}

// Render builds the digest for one recipient. The batch is never modified.
func (r *Renderer) Render(batch domain.ContentBatch, recipient domain.RecipientProfile, cadence domain.Frequency) (domain.RenderedDigest, error) {
	view := r.view(batch, recipient, cadence)

	var htmlBody bytes.Buffer
	if err := r.html.Execute(&htmlBody, view); err != nil {
		return domain.RenderedDigest{}, &domain.RenderError{RecipientID: recipient.ID, Err: err}
	}

	var textBody bytes.Buffer
	if err := r.text.Execute(&textBody, view); err != nil {
		return domain.RenderedDigest{}, &domain.RenderError{RecipientID: recipient.ID, Err: err}
	}

	return domain.RenderedDigest{
		RecipientID: recipient.ID,
		Address:     recipient.Address(),
		Subject:     view.Subject,
		HTML:        htmlBody.String(),
		Text:        textBody.String(),
	}, nil
}

func (r *Renderer) view(batch domain.ContentBatch, recipient domain.RecipientProfile, cadence domain.Frequency) digestView {
	items := batch.Head(recipient.ItemLimit())
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, itemView{
			Title:     r.plain(item.Title, "Untitled"),
			Summary:   r.plain(item.Summary, ""),
			Source:    r.plain(item.Source, "Unknown"),
			URL:       safeURL(item.URL),
			ImageURL:  safeURL(item.ImageURL),
			Published: publishedDate(item),
		})
	}

	intro := "Here are today's top news stories:"
	if cadence == domain.FrequencyWeekly {
		intro = "Here are this week's top news stories:"
	}

	return digestView{
		Subject:     Subject(cadence),
		Username:    r.plain(recipient.Username, "there"),
		Intro:       intro,
		Cadence:     string(cadence),
		Categories:  r.categories(recipient.Categories),
		Placeholder: Placeholder,
		Items:       views,
	}
}

// plain strips markup from untrusted text; the templates escape what is left.
func (r *Renderer) plain(s, fallback string) string {
	s = html.UnescapeString(r.policy.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return fallback
	}
	return s
}

func (r *Renderer) categories(tags []string) string {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = r.plain(tag, ""); tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	if len(cleaned) == 0 {
		return noCategories
	}
	return strings.Join(cleaned, ", ")
}

func safeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func publishedDate(item domain.ContentItem) string {
	if item.PublishedAt.IsZero() {
		return ""
	}
	return item.PublishedAt.UTC().Format("Jan 2, 2006")
}
