package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

//
// QueryParams helper
//

// QueryParams holds the request parameters recorded with a log entry.
// Stored as JSON text so it works on both Postgres and SQLite.
type QueryParams map[string]string

func (q QueryParams) Value() (driver.Value, error) {
	if q == nil {
		return "{}", nil
	}
	b, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (q *QueryParams) Scan(value any) error {
	if value == nil {
		*q = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("QueryParams: expected []byte or string, got %T", value)
	}

	if len(b) == 0 {
		*q = nil
		return nil
	}

	return json.Unmarshal(b, q)
}

// String renders the params as JSON, as written in CSV exports.
func (q QueryParams) String() string {
	if len(q) == 0 {
		return "{}"
	}
	b, err := json.Marshal(q)
	if err != nil {
		return "{}"
	}
	return string(b)
}
