package storage

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

var _ ports.RecipientDirectory = (*Store)(nil)

var recipientColumns = []string{
	"id", "username", "email", "categories", "email_notifications",
	"email_frequency", "language", "news_count",
}

type recipientRow struct {
	ID                 string `db:"id"`
	Username           string `db:"username"`
	Email              string `db:"email"`
	Categories         string `db:"categories"`
	EmailNotifications bool   `db:"email_notifications"`
	EmailFrequency     string `db:"email_frequency"`
	Language           string `db:"language"`
	NewsCount          int    `db:"news_count"`
}

// ListRecipients returns every recipient subscribed to the cadence, opted in
// or not, ordered by id so runs process recipients in a stable order.
func (s *Store) ListRecipients(ctx context.Context, cadence domain.Frequency) ([]domain.RecipientProfile, error) {
	query, args, err := s.sb.Select(recipientColumns...).
		From("recipients").
		Where(sq.Eq{"email_frequency": string(cadence)}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, &domain.DirectoryError{Err: fmt.Errorf("build query: %w", err)}
	}

	var rows []recipientRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &domain.DirectoryError{Err: fmt.Errorf("query recipients: %w", err)}
	}

	profiles := make([]domain.RecipientProfile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.toProfile())
	}
	return profiles, nil
}

// UpsertRecipient writes a subscriber record. The digest never calls this;
// it exists for the account service and for seeding.
func (s *Store) UpsertRecipient(ctx context.Context, r domain.RecipientProfile) error {
	categories := r.Categories
	if categories == nil {
		categories = []string{}
	}
	rawCategories, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}

	frequency := r.Frequency
	if frequency == "" {
		frequency = domain.FrequencyDaily
	}
	language := r.Language
	if language == "" {
		language = "en"
	}

	query, args, err := s.sb.Insert("recipients").
		Columns(recipientColumns...).
		Values(r.ID, r.Username, r.Email, string(rawCategories), r.EmailNotifications, string(frequency), language, r.ItemLimit()).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			categories = excluded.categories,
			email_notifications = excluded.email_notifications,
			email_frequency = excluded.email_frequency,
			language = excluded.language,
			news_count = excluded.news_count`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert recipient %s: %w", r.ID, err)
	}
	return nil
}

func (row recipientRow) toProfile() domain.RecipientProfile {
	var categories []string
	if row.Categories != "" {
		// A corrupt column degrades to "no categories" rather than failing the run.
		_ = json.Unmarshal([]byte(row.Categories), &categories)
	}

	frequency, err := domain.ParseFrequency(row.EmailFrequency)
	if err != nil {
		frequency = domain.Frequency(row.EmailFrequency)
	}

	return domain.RecipientProfile{
		ID:                 row.ID,
		Username:           row.Username,
		Email:              row.Email,
		Categories:         categories,
		Frequency:          frequency,
		EmailNotifications: row.EmailNotifications,
		Language:           row.Language,
		NewsCount:          row.NewsCount,
	}
}
