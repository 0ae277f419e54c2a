package domain

import "time"

// ContentItem is one headline fetched from an upstream provider.
type ContentItem struct {
	Title       string
	Summary     string
	Source      string
	URL         string
	ImageURL    string
	PublishedAt time.Time
}

// ContentBatch is the shared, read-only set of items for a single run.
type ContentBatch struct {
	items     []ContentItem
	fetchedAt time.Time
}

// NewContentBatch copies items so later mutation of the input cannot leak in.
func NewContentBatch(items []ContentItem, fetchedAt time.Time) ContentBatch {
	cp := make([]ContentItem, len(items))
	copy(cp, items)
	return ContentBatch{items: cp, fetchedAt: fetchedAt}
}

// EmptyBatch is substituted when the content fetch fails.
func EmptyBatch(at time.Time) ContentBatch {
	return ContentBatch{fetchedAt: at}
}

// Len returns the number of items in the batch.
func (b ContentBatch) Len() int { return len(b.items) }

// FetchedAt is when the fetch finished, or when it failed for an empty batch.
func (b ContentBatch) FetchedAt() time.Time { return b.fetchedAt }

// Items returns a copy of the batch contents.
func (b ContentBatch) Items() []ContentItem {
	return b.Head(len(b.items))
}

// Head returns a copy of at most n leading items.
func (b ContentBatch) Head(n int) []ContentItem {
	if n > len(b.items) {
		n = len(b.items)
	}
	if n <= 0 {
		return nil
	}
	cp := make([]ContentItem, n)
	copy(cp, b.items[:n])
	return cp
}

// RenderedDigest is the document produced for one recipient. It lives only
// for the duration of a single delivery attempt.
type RenderedDigest struct {
	RecipientID string
	Address     string
	Subject     string
	HTML        string
	Text        string
}
