package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
)

const (
	defaultItemSelector    = "article"
	defaultTitleSelector   = "h1, h2, h3"
	defaultLinkSelector    = "a[href]"
	defaultSummarySelector = "p"
	defaultImageSelector   = "img[src]"
	defaultTimeSelector    = "time[datetime]"
)

// HeadlineScanner extracts headlines from an HTML front page using CSS
// selectors supplied through source options.
type HeadlineScanner struct {
	client *http.Client
}

var _ scanner.Scanner = (*HeadlineScanner)(nil)

// NewHeadlineScanner wires an HTTP client.
func NewHeadlineScanner(client *http.Client) *HeadlineScanner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HeadlineScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (h *HeadlineScanner) Name() string {
	return "html"
}

// Scan loads the page and returns up to req.MaxItems headlines in page order.
func (h *HeadlineScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.ContentItem, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no url provided for source %s", req.SourceName)
	}

	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %s: %w", req.URL, err)
	}

	doc, err := h.fetchDocument(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceName, err)
	}

	return extractHeadlines(doc, base, req), nil
}

func (h *HeadlineScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsDigest/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func extractHeadlines(doc *goquery.Document, base *url.URL, req scanner.Request) []domain.ContentItem {
	var collected []domain.ContentItem

	doc.Find(req.Option("item", defaultItemSelector)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if req.MaxItems > 0 && len(collected) >= req.MaxItems {
			return false
		}
		item, ok := parseHeadline(sel, base, req)
		if ok {
			collected = append(collected, item)
		}
		return true
	})

	return collected
}

func parseHeadline(sel *goquery.Selection, base *url.URL, req scanner.Request) (domain.ContentItem, bool) {
	title := collapse(sel.Find(req.Option("title", defaultTitleSelector)).First().Text())
	if title == "" {
		return domain.ContentItem{}, false
	}

	var link string
	if href, ok := sel.Find(req.Option("link", defaultLinkSelector)).First().Attr("href"); ok {
		link = resolve(base, href)
	}

	var image string
	if src, ok := sel.Find(req.Option("image", defaultImageSelector)).First().Attr("src"); ok {
		image = resolve(base, src)
	}

	summary := collapse(sel.Find(req.Option("summary", defaultSummarySelector)).First().Text())

	var published time.Time
	if raw, ok := sel.Find(req.Option("time", defaultTimeSelector)).First().Attr("datetime"); ok {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw)); err == nil {
			published = parsed
		}
	}

	return domain.ContentItem{
		Title:       title,
		Summary:     summary,
		Source:      req.SourceName,
		URL:         link,
		ImageURL:    image,
		PublishedAt: published,
	}, true
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
