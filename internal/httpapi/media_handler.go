package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"media_gateway/internal/config"
	"media_gateway/internal/metering"
	"media_gateway/internal/models"
	"media_gateway/internal/providers"
	"media_gateway/internal/utils"
)

const (
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"

	msgInternal    = "Internal server error"
	msgUpload      = "Upstream (upload) failed"
	msgKeyRejected = "Invalid or expired key"
	msgMissingURL  = "url is required"
	msgInvalidType = "type must be audio or video"
)

var (
	errMissingURL  = errors.New(msgMissingURL)
	errInvalidType = errors.New(msgInvalidType)
)

type mediaResponse struct {
	Status bool                `json:"status"`
	Result *models.MediaResult `json:"result"`
}

type usageResponse struct {
	Status        bool       `json:"status"`
	Key           string     `json:"key"`
	Username      string     `json:"username"`
	TodayUsed     int        `json:"today_used"`
	DailyLimit    int        `json:"daily_limit"`
	TotalRequests int64      `json:"total_requests"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

type resolveCacheResponse struct {
	Status         bool   `json:"status"`
	Cached         bool   `json:"cached"`
	BlobFileRef    string `json:"file_id,omitempty"`
	BlobMessageRef string `json:"message_id,omitempty"`
}

type healthResponse struct {
	Status    bool   `json:"status"`
	Service   string `json:"service"`
	TotalKeys int64  `json:"total_keys"`
	Error     string `json:"error,omitempty"`
}

// clientMessage is the error text shown to API clients. Key and quota
// failures are shown as is; anything internal is not.
func clientMessage(err error) string {
	switch {
	case metering.IsClientError(err), errors.Is(err, errMissingURL), errors.Is(err, errInvalidType):
		return err.Error()
	case errors.Is(err, providers.ErrUpstreamUpload):
		return msgUpload
	default:
		return msgInternal
	}
}

// fail answers a domain failure: HTTP 200 with status false
func fail(w http.ResponseWriter, message string) {
	utils.RespondWithError(w, http.StatusOK, message)
}

func setRemaining(w http.ResponseWriter, remaining int) {
	w.Header().Set(headerRateRemaining, strconv.Itoa(remaining))
}

// handleMedia serves GET /api/media?url&type&key&prefer
func (d *Dependencies) handleMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	url := strings.TrimSpace(q.Get("url"))
	mediaType := models.MediaType(q.Get("type"))
	if mediaType == "" {
		mediaType = models.MediaAudio
	}
	prefer := q.Get("prefer")

	params := models.QueryParams{"url": url, "type": string(mediaType)}
	if prefer != "" {
		params["prefer"] = prefer
	}

	call := d.Metering.Begin(q.Get("key"), "/api/media", params)
	defer call.End()

	// metering runs first so a bad key is reported as such
	ctx := r.Context()
	auth := call.Authorize(ctx)
	if auth.Key != nil {
		w.Header().Set(headerRateLimit, strconv.Itoa(auth.Limit))
		setRemaining(w, auth.Remaining)
	}
	if !auth.OK {
		fail(w, clientMessage(auth.Err))
		return
	}

	if url == "" {
		fail(w, clientMessage(call.Fail(errMissingURL)))
		return
	}
	if !mediaType.Valid() {
		fail(w, clientMessage(call.Fail(errInvalidType)))
		return
	}

	var result *models.MediaResult
	switch mediaType {
	case models.MediaAudio:
		meta, err := d.Fetcher.FetchAudio(ctx, url)
		if err != nil {
			call.Fail(err)
			fail(w, "Upstream (audio) failed")
			return
		}
		result, err = d.Cache.ResolveAudio(ctx, url, meta)
		if err != nil {
			fail(w, clientMessage(call.Fail(err)))
			return
		}
	case models.MediaVideo:
		meta, err := d.Fetcher.FetchVideo(ctx, url, config.SplitList(prefer))
		if err != nil {
			call.Fail(err)
			fail(w, "Upstream (video) failed")
			return
		}
		result = d.Cache.ResolveVideo(meta)
	}

	setRemaining(w, call.Charge(ctx))
	utils.RespondWithJSON(w, http.StatusOK, mediaResponse{Status: true, Result: result})
}

// handleUsage serves GET /api/usage?key
func (d *Dependencies) handleUsage(w http.ResponseWriter, r *http.Request) {
	call := d.Metering.Begin(r.URL.Query().Get("key"), "/api/usage", nil)
	defer call.End()

	k, err := call.Identify(r.Context())
	if err != nil {
		fail(w, clientMessage(err))
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, usageResponse{
		Status:        true,
		Key:           k.Key,
		Username:      k.Username,
		TodayUsed:     k.RequestsToday,
		DailyLimit:    k.DailyLimit,
		TotalRequests: k.TotalRequests,
		ExpiresAt:     k.ExpiresAt,
	})
}

// handleResolveCache serves GET /api/resolve_cache?url&key
func (d *Dependencies) handleResolveCache(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	url := strings.TrimSpace(q.Get("url"))

	call := d.Metering.Begin(q.Get("key"), "/api/resolve_cache", models.QueryParams{"url": url})
	defer call.End()

	if _, err := call.Identify(r.Context()); err != nil {
		if metering.IsClientError(err) {
			fail(w, msgKeyRejected)
		} else {
			fail(w, msgInternal)
		}
		return
	}
	if url == "" {
		fail(w, clientMessage(call.Fail(errMissingURL)))
		return
	}

	rec, err := d.Cache.Lookup(r.Context(), url)
	if err != nil {
		fail(w, clientMessage(call.Fail(err)))
		return
	}
	if rec == nil {
		utils.RespondWithJSON(w, http.StatusOK, resolveCacheResponse{Status: true})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, resolveCacheResponse{
		Status:         true,
		Cached:         true,
		BlobFileRef:    rec.BlobFileRef,
		BlobMessageRef: rec.BlobMessageRef,
	})
}

// handleAPIHealth serves GET /api/health
func (d *Dependencies) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := d.Health.Health(ctx); err != nil {
		d.logger.Error("Health check failed", "error", err)
		utils.RespondWithJSON(w, http.StatusOK, healthResponse{Service: "degraded", Error: "database unavailable"})
		return
	}

	total, _, err := d.Keys.Totals(ctx)
	if err != nil {
		d.logger.Error("Health check failed", "error", err)
		utils.RespondWithJSON(w, http.StatusOK, healthResponse{Service: "degraded", Error: "database unavailable"})
		return
	}

	if d.RedisHealth != nil {
		if err := d.RedisHealth.Health(ctx); err != nil {
			d.logger.Error("Health check failed", "error", err)
			utils.RespondWithJSON(w, http.StatusOK, healthResponse{Service: "degraded", TotalKeys: total, Error: "redis unavailable"})
			return
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, healthResponse{Status: true, Service: "ok", TotalKeys: total})
}
