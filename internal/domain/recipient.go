package domain

import (
	"fmt"
	"strings"
)

// Frequency is the digest cadence a recipient subscribed to.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyNever  Frequency = "never"
)

// ParseFrequency normalizes user or config supplied cadence names.
func ParseFrequency(raw string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(raw))) {
	case FrequencyDaily, "":
		return FrequencyDaily, nil
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	case FrequencyNever:
		return FrequencyNever, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", raw)
	}
}

const (
	DefaultNewsCount = 5
	MaxNewsCount     = 20
)

// RecipientProfile is a read-only snapshot of one subscriber record.
type RecipientProfile struct {
	ID                 string
	Username           string
	Email              string
	Categories         []string
	Frequency          Frequency
	EmailNotifications bool
	Language           string
	NewsCount          int
}

// Address returns the trimmed delivery address.
func (r RecipientProfile) Address() string {
	return strings.TrimSpace(r.Email)
}

// ItemLimit clamps the preferred item count to the supported range.
func (r RecipientProfile) ItemLimit() int {
	switch {
	case r.NewsCount <= 0:
		return DefaultNewsCount
	case r.NewsCount > MaxNewsCount:
		return MaxNewsCount
	default:
		return r.NewsCount
	}
}
