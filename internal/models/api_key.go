package models

import (
	"time"
)

// DateLayout is the layout of the calendar day stored in LastResetDate.
const DateLayout = "2006-01-02"

// Day returns the UTC calendar day of t in DateLayout form.
func Day(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// APIKey represents a metered client key and its daily quota window.
type APIKey struct {
	Key           string     `db:"key" json:"key"`
	Username      string     `db:"username" json:"username"`
	DailyLimit    int        `db:"daily_limit" json:"limit"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at"` // NULL = never expires
	IsAdmin       bool       `db:"is_admin" json:"is_admin"`
	RequestsToday int        `db:"requests_today" json:"requests_today"`
	LastResetDate string     `db:"last_reset_date" json:"last_reset"` // yyyy-mm-dd, UTC
	TotalRequests int64      `db:"total_requests" json:"total_requests"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// IsExpiredAt checks if the key had expired at the given instant
func (k *APIKey) IsExpiredAt(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return now.After(*k.ExpiresAt)
}

// UsedOn returns the request count for the given day. The stored counter only
// applies to LastResetDate; any other day is logically zero.
func (k *APIKey) UsedOn(day string) int {
	if k.LastResetDate != day {
		return 0
	}
	return k.RequestsToday
}

// Remaining returns what is left of today's quota, never negative.
func (k *APIKey) Remaining() int {
	return max(0, k.DailyLimit-k.RequestsToday)
}

// QuotaExhausted reports whether the daily limit has been reached.
func (k *APIKey) QuotaExhausted() bool {
	return k.RequestsToday >= k.DailyLimit
}

// Label is the display name used in usage rankings.
func (k *APIKey) Label() string {
	if k.Username != "" {
		return k.Username
	}
	if len(k.Key) > 8 {
		return k.Key[:8]
	}
	return k.Key
}

// UsageShare is one entry of the per-key usage ranking.
type UsageShare struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}
