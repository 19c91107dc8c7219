package storage

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"media_gateway/internal/models"
)

const logColumns = `id, ts, api_key, endpoint, success, latency_ms, query_params, error`

// csvHeader is the header row of the log export
var csvHeader = []string{"ts", "key", "endpoint", "status", "ms", "query", "error"}

// LogRepository is the append-only request log
type LogRepository struct {
	db *DB
}

// NewLogRepository creates a new request log repository
func NewLogRepository(db *DB) *LogRepository {
	return &LogRepository{db: db}
}

// Insert appends one entry. ID and Timestamp are filled in when unset.
func (r *LogRepository) Insert(ctx context.Context, entry *models.LogEntry) error {
	if err := r.insert(ctx, r.db.conn, entry); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return persistenceError("insert log entry", err)
	}
	return nil
}

// InsertBatch appends entries in a single transaction
func (r *LogRepository) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceError("begin log batch", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := r.insert(ctx, tx, entry); err != nil {
			return persistenceError("insert log batch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistenceError("commit log batch", err)
	}
	return nil
}

func (r *LogRepository) insert(ctx context.Context, exec sqlx.ExecerContext, entry *models.LogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.db.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	query := r.db.Rebind(`
		INSERT INTO api_logs (` + logColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := exec.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, entry.Key, entry.Endpoint, entry.Success,
		entry.LatencyMS, entry.QueryParams, entry.Error,
	)
	return err
}

// Recent returns the n newest entries
func (r *LogRepository) Recent(ctx context.Context, n int) ([]*models.LogEntry, error) {
	entries := []*models.LogEntry{}
	if n <= 0 {
		return entries, nil
	}

	query := r.db.Rebind(`SELECT ` + logColumns + ` FROM api_logs ORDER BY ts DESC LIMIT ?`)
	if err := r.db.conn.SelectContext(ctx, &entries, query, n); err != nil {
		return nil, persistenceError("recent logs", err)
	}
	for _, e := range entries {
		e.Timestamp = e.Timestamp.UTC()
	}
	return entries, nil
}

// CountSince counts entries at or after since
func (r *LogRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_logs WHERE ts >= ?`)
	if err := r.db.conn.GetContext(ctx, &count, query, since.UTC()); err != nil {
		return 0, persistenceError("count logs", err)
	}
	return count, nil
}

// CountErrorsSince counts failed entries at or after since
func (r *LogRepository) CountErrorsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_logs WHERE ts >= ? AND success = ?`)
	if err := r.db.conn.GetContext(ctx, &count, query, since.UTC(), false); err != nil {
		return 0, persistenceError("count error logs", err)
	}
	return count, nil
}

// countBetween counts entries in [start, end)
func (r *LogRepository) countBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_logs WHERE ts >= ? AND ts < ?`)
	if err := r.db.conn.GetContext(ctx, &count, query, start.UTC(), end.UTC()); err != nil {
		return 0, persistenceError("count logs in range", err)
	}
	return count, nil
}

// ErrorRate returns the percentage of failed requests over the last days,
// rounded to two decimals. An empty window is 0.
func (r *LogRepository) ErrorRate(ctx context.Context, days int) (float64, error) {
	since := r.db.now().AddDate(0, 0, -days)

	total, err := r.CountSince(ctx, since)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	errs, err := r.CountErrorsSince(ctx, since)
	if err != nil {
		return 0, err
	}

	rate := float64(errs) / float64(total) * 100
	return math.Round(rate*100) / 100, nil
}

// DailyCountsForLastWeek returns seven UTC days of request counts, oldest first
// and ending today
func (r *LogRepository) DailyCountsForLastWeek(ctx context.Context) ([]models.DailyCount, error) {
	now := r.db.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	points := make([]models.DailyCount, 0, 7)
	for i := 6; i >= 0; i-- {
		start := today.AddDate(0, 0, -i)
		count, err := r.countBetween(ctx, start, start.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
		points = append(points, models.DailyCount{
			Day:   start.Format("Mon"),
			Date:  start.Format(models.DateLayout),
			Count: count,
		})
	}
	return points, nil
}

// ExportCSV writes every entry, newest first, as CSV. An empty log yields
// only the header row.
func (r *LogRepository) ExportCSV(ctx context.Context, w io.Writer) error {
	rows, err := r.db.conn.QueryxContext(ctx, `SELECT `+logColumns+` FROM api_logs ORDER BY ts DESC`)
	if err != nil {
		return persistenceError("export logs", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for rows.Next() {
		var e models.LogEntry
		if err := rows.StructScan(&e); err != nil {
			return persistenceError("scan log entry", err)
		}
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Key,
			e.Endpoint,
			strconv.FormatBool(e.Success),
			strconv.FormatInt(e.LatencyMS, 10),
			e.QueryParams.String(),
			e.ErrorText(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return persistenceError("export logs", err)
	}

	cw.Flush()
	return cw.Error()
}
