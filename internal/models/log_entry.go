package models

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is one row of the append-only request log.
type LogEntry struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Timestamp   time.Time   `db:"ts" json:"ts"`
	Key         string      `db:"api_key" json:"key"`
	Endpoint    string      `db:"endpoint" json:"endpoint"`
	Success     bool        `db:"success" json:"status"`
	LatencyMS   int64       `db:"latency_ms" json:"ms"`
	QueryParams QueryParams `db:"query_params" json:"query"`
	Error       *string     `db:"error" json:"error"`
}

// ErrorText returns the error message or an empty string.
func (e *LogEntry) ErrorText() string {
	if e.Error == nil {
		return ""
	}
	return *e.Error
}

// DailyCount is one point of the weekly request series.
type DailyCount struct {
	Day   string `json:"day"`  // Mon, Tue, ...
	Date  string `json:"date"` // yyyy-mm-dd
	Count int64  `json:"count"`
}
