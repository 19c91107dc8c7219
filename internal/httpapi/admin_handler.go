package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"media_gateway/internal/models"
	"media_gateway/internal/queue"
	"media_gateway/internal/storage"
	"media_gateway/internal/utils"
)

const (
	statsErrorRateDays = 7
	statsTopKeys       = 20
	overviewRecentLogs = 20
	overviewTopKeys    = 10
	deadLetterPageSize = 100
)

type createKeyResponse struct {
	Status    bool       `json:"status"`
	Key       string     `json:"key"`
	Username  string     `json:"username"`
	Limit     int        `json:"limit"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type statusResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
}

type keysResponse struct {
	Status bool             `json:"status"`
	Keys   []*models.APIKey `json:"keys"`
}

type statsResponse struct {
	Status    bool                `json:"status"`
	ErrorRate float64             `json:"error_rate"`
	Weekly    []models.DailyCount `json:"weekly"`
	PerKey    []models.UsageShare `json:"perkey"`
}

type overviewResponse struct {
	Status        bool                `json:"status"`
	Project       string              `json:"project,omitempty"`
	TotalKeys     int64               `json:"total_keys"`
	TotalRequests int64               `json:"total_requests"`
	RequestsToday int64               `json:"requests_today"`
	ActiveKeys    int64               `json:"active_keys"`
	ErrorRate     float64             `json:"error_rate"`
	CachedRecords int64               `json:"cached_records"`
	Recent        []*models.LogEntry  `json:"recent"`
	Weekly        []models.DailyCount `json:"weekly"`
	TopKeys       []models.UsageShare `json:"top_keys"`
	Database      *storage.DBStats    `json:"database,omitempty"`
}

type rateLimitResponse struct {
	Status     bool   `json:"status"`
	Key        string `json:"key"`
	WindowUsed int64  `json:"window_used"`
	PerMinute  int    `json:"per_minute"`
}

type deadLettersResponse struct {
	Status     bool                   `json:"status"`
	QueueDepth int                    `json:"queue_depth"`
	Items      []queue.DeadLetterItem `json:"items"`
}

// formInt reads an integer form value. Blank means def; anything else that
// is not an integer is an error.
func formInt(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

// handleAdminCreate serves POST /admin/create (username, limit|plan, days, is_admin)
func (d *Dependencies) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	if username == "" {
		fail(w, "username is required")
		return
	}

	limit, err := formInt(r, "limit", d.Plans.Limit(r.FormValue("plan")))
	if err != nil {
		fail(w, err.Error())
		return
	}
	if limit < 0 {
		fail(w, "limit must not be negative")
		return
	}
	days, err := formInt(r, "days", d.Plans.DefaultDays)
	if err != nil {
		fail(w, err.Error())
		return
	}
	isAdmin, _ := strconv.ParseBool(r.FormValue("is_admin"))

	k, err := d.Keys.Create(r.Context(), username, limit, days, isAdmin)
	if err != nil {
		d.logger.Error("Failed to create API key", "username", username, "error", err)
		fail(w, msgInternal)
		return
	}

	d.logger.Info("API key created", "username", username, "limit", limit, "days", days)
	utils.RespondWithJSON(w, http.StatusOK, createKeyResponse{
		Status:    true,
		Key:       k.Key,
		Username:  k.Username,
		Limit:     k.DailyLimit,
		ExpiresAt: k.ExpiresAt,
	})
}

// handleAdminDelete serves POST /admin/delete (target_key)
func (d *Dependencies) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.FormValue("target_key"))
	if target == "" {
		fail(w, "target_key is required")
		return
	}

	if err := d.Keys.Delete(r.Context(), target); err != nil {
		d.logger.Error("Failed to delete API key", "error", err)
		fail(w, msgInternal)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, statusResponse{Status: true, Message: "deleted"})
}

// handleAdminKeys serves GET /admin/keys
func (d *Dependencies) handleAdminKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := d.Keys.List(r.Context())
	if err != nil {
		d.logger.Error("Failed to list API keys", "error", err)
		fail(w, msgInternal)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	utils.RespondWithJSON(w, http.StatusOK, keysResponse{Status: true, Keys: keys})
}

// handleAdminStats serves GET /admin/stats
func (d *Dependencies) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rate, err := d.Logs.ErrorRate(ctx, statsErrorRateDays)
	if err != nil {
		d.adminFailure(w, "stats", err)
		return
	}
	weekly, err := d.Logs.DailyCountsForLastWeek(ctx)
	if err != nil {
		d.adminFailure(w, "stats", err)
		return
	}
	perKey, err := d.Keys.TopUsage(ctx, statsTopKeys)
	if err != nil {
		d.adminFailure(w, "stats", err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, statsResponse{
		Status:    true,
		ErrorRate: rate,
		Weekly:    weekly,
		PerKey:    nonNilShares(perKey),
	})
}

// handleAdminOverview serves GET /admin/overview, the dashboard summary.
func (d *Dependencies) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := overviewResponse{Status: true, Project: d.ProjectName}

	var err error
	if resp.TotalKeys, resp.TotalRequests, err = d.Keys.Totals(ctx); err != nil {
		d.adminFailure(w, "overview", err)
		return
	}
	if resp.RequestsToday, err = d.Keys.RequestsToday(ctx); err != nil {
		d.adminFailure(w, "overview", err)
		return
	}
	if resp.ActiveKeys, err = d.Keys.CountActive(ctx); err != nil {
		d.adminFailure(w, "overview", err)
		return
	}
	if resp.ErrorRate, err = d.Logs.ErrorRate(ctx, statsErrorRateDays); err != nil {
		d.adminFailure(w, "overview", err)
		return
	}
	if resp.Recent, err = d.Logs.Recent(ctx, overviewRecentLogs); err != nil {
		d.adminFailure(w, "overview", err)
		return
	}
	if resp.Weekly, err = d.Logs.DailyCountsForLastWeek(ctx); err != nil {
		d.adminFailure(w, "overview", err)
		return
	}
	top, err := d.Keys.TopUsage(ctx, overviewTopKeys)
	if err != nil {
		d.adminFailure(w, "overview", err)
		return
	}
	resp.TopKeys = nonNilShares(top)
	if resp.CachedRecords, err = d.Records.Count(ctx); err != nil {
		d.adminFailure(w, "overview", err)
		return
	}
	if resp.Recent == nil {
		resp.Recent = []*models.LogEntry{}
	}
	if d.Pool != nil {
		stats := d.Pool.GetStats()
		resp.Database = &stats
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// handleAdminExportLogs serves GET /admin/export_logs as a CSV attachment.
// The file is built in memory so a failure can still be reported as JSON.
func (d *Dependencies) handleAdminExportLogs(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := d.Logs.ExportCSV(r.Context(), &buf); err != nil {
		d.adminFailure(w, "export logs", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="api_logs.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleAdminDeadLetters serves GET /admin/dead_letters
func (d *Dependencies) handleAdminDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	depth, err := d.DeadLetters.GetQueueLength(ctx)
	if err != nil {
		d.adminFailure(w, "dead letters", err)
		return
	}
	items, err := d.DeadLetters.GetDeadLetterItems(ctx, deadLetterPageSize)
	if err != nil {
		d.adminFailure(w, "dead letters", err)
		return
	}
	if items == nil {
		items = []queue.DeadLetterItem{}
	}

	utils.RespondWithJSON(w, http.StatusOK, deadLettersResponse{Status: true, QueueDepth: depth, Items: items})
}

// handleAdminRetryDeadLetter serves POST /admin/dead_letters/retry (id)
func (d *Dependencies) handleAdminRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.FormValue("id"))
	if id == "" {
		fail(w, "id is required")
		return
	}

	err := d.DeadLetters.RetryDeadLetterItem(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrItemNotFound):
		fail(w, "dead letter not found")
		return
	case err != nil:
		d.adminFailure(w, "retry dead letter", err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, statusResponse{Status: true, Message: "requeued"})
}

// handleAdminRateLimit serves GET /admin/rate_limit?target_key
func (d *Dependencies) handleAdminRateLimit(w http.ResponseWriter, r *http.Request) {
	target, ok := d.burstTarget(w, r)
	if !ok {
		return
	}

	used, err := d.Bursts.GetCurrentUsage(r.Context(), target)
	if err != nil {
		d.adminFailure(w, "rate limit usage", err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, rateLimitResponse{
		Status:     true,
		Key:        target,
		WindowUsed: used,
		PerMinute:  d.BurstLimit,
	})
}

// handleAdminResetRateLimit serves POST /admin/rate_limit/reset (target_key)
func (d *Dependencies) handleAdminResetRateLimit(w http.ResponseWriter, r *http.Request) {
	target, ok := d.burstTarget(w, r)
	if !ok {
		return
	}

	if err := d.Bursts.Reset(r.Context(), target); err != nil {
		d.adminFailure(w, "rate limit reset", err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, statusResponse{Status: true, Message: "reset"})
}

func (d *Dependencies) burstTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	if d.Bursts == nil {
		fail(w, "rate limiting needs Redis")
		return "", false
	}
	target := strings.TrimSpace(r.FormValue("target_key"))
	if target == "" {
		fail(w, "target_key is required")
		return "", false
	}
	return target, true
}

func (d *Dependencies) adminFailure(w http.ResponseWriter, op string, err error) {
	d.logger.Error("Admin request failed", "op", op, "error", err)
	fail(w, msgInternal)
}

func nonNilShares(s []models.UsageShare) []models.UsageShare {
	if s == nil {
		return []models.UsageShare{}
	}
	return s
}
