// Package newsapi implements the top-headlines strategy against the NewsAPI v2 API.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
)

const defaultEndpoint = "https://newsapi.org/v2/top-headlines"

// Client fetches headlines from NewsAPI.
type Client struct {
	http *http.Client
}

var _ scanner.Scanner = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{http: client}
}

// Name identifies the strategy inside the registry.
func (c *Client) Name() string {
	return "newsapi"
}

type response struct {
	Status   string    `json:"status"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Articles []article `json:"articles"`
}

type article struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
}

// Scan requests the top headlines for the configured language.
func (c *Client) Scan(ctx context.Context, req scanner.Request) ([]domain.ContentItem, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("newsapi source %s: api key is not configured", req.SourceName)
	}

	endpoint, err := buildURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", req.APIKey)
	httpReq.Header.Set("User-Agent", "NewsDigest/1.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var payload response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response (status %s): %w", resp.Status, err)
	}

	if resp.StatusCode != http.StatusOK || payload.Status != "ok" {
		return nil, fmt.Errorf("newsapi error %s: %s %s", resp.Status, payload.Code, strings.TrimSpace(payload.Message))
	}

	items := make([]domain.ContentItem, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		if strings.TrimSpace(a.Title) == "" || a.Title == "[Removed]" {
			continue
		}
		items = append(items, toItem(a))
		if req.MaxItems > 0 && len(items) >= req.MaxItems {
			break
		}
	}

	return items, nil
}

func buildURL(req scanner.Request) (string, error) {
	base := req.URL
	if base == "" {
		base = defaultEndpoint
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid newsapi url %s: %w", base, err)
	}

	query := parsed.Query()
	language := req.Language
	if language == "" {
		language = "en"
	}
	query.Set("language", language)
	if req.MaxItems > 0 {
		query.Set("pageSize", strconv.Itoa(req.MaxItems))
	}
	for _, key := range []string{"country", "category", "sources", "q"} {
		if v := req.Option(key, ""); v != "" {
			query.Set(key, v)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func toItem(a article) domain.ContentItem {
	item := domain.ContentItem{
		Title:    a.Title,
		Summary:  a.Description,
		Source:   a.Source.Name,
		URL:      a.URL,
		ImageURL: a.URLToImage,
	}
	if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
		item.PublishedAt = t
	}
	return item
}
