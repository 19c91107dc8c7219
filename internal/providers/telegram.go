package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"media_gateway/internal/utils"
)

const (
	defaultTelegramAPI   = "https://api.telegram.org"
	defaultUploadTimeout = 120 * time.Second
)

// TelegramConfig configures TelegramUploader.
type TelegramConfig struct {
	APIURL    string
	BotToken  string
	ChannelID string
	Timeout   time.Duration
	// RetryCount applies to throttled or 5xx answers only; transport errors are
	// not retried because the message may already have been posted.
	RetryCount int
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
		Audio     *struct {
			FileID string `json:"file_id"`
		} `json:"audio"`
	} `json:"result"`
}

// TelegramUploader posts audio to a channel through the Bot API and uses the
// resulting message as the durable blob.
type TelegramUploader struct {
	client    *resty.Client
	apiURL    string
	token     string
	channelID string
	timeout   time.Duration
	logger    *utils.Logger
}

func NewTelegramUploader(cfg TelegramConfig) *TelegramUploader {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultTelegramAPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultUploadTimeout
	}

	client := resty.New().
		SetHeader("Accept", "application/json").
		SetRetryCount(max(cfg.RetryCount, 0)).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryCondition)

	return &TelegramUploader{
		client:    client,
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		token:     cfg.BotToken,
		channelID: cfg.ChannelID,
		timeout:   cfg.Timeout,
		logger:    utils.NewLogger("telegram"),
	}
}

// UploadAudio sends sourceURL to the channel with sendAudio. Telegram fetches
// the file itself. Success requires ok=true and both references in the reply.
func (u *TelegramUploader) UploadAudio(ctx context.Context, sourceURL, caption string) (*UploadResult, error) {
	if u.token == "" || u.channelID == "" {
		return nil, fmt.Errorf("%w: telegram channel not configured", ErrUpstreamUpload)
	}
	if sourceURL == "" {
		return nil, fmt.Errorf("%w: empty source url", ErrUpstreamUpload)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	resp, err := u.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": u.channelID,
			"caption": caption,
			"audio":   sourceURL,
		}).
		Post(u.apiURL + "/bot" + u.token + "/sendAudio")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUpload, u.redact(err))
	}

	var body telegramResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: invalid response (status %d)", ErrUpstreamUpload, resp.StatusCode())
	}
	if !body.OK {
		u.logger.Warn("sendAudio rejected", "status", resp.StatusCode(), "description", body.Description)
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUpload, body.Description)
	}
	if body.Result.Audio == nil || body.Result.Audio.FileID == "" || body.Result.MessageID == 0 {
		return nil, fmt.Errorf("%w: reply carries no file reference", ErrUpstreamUpload)
	}

	return &UploadResult{
		FileRef:    body.Result.Audio.FileID,
		MessageRef: strconv.FormatInt(body.Result.MessageID, 10),
	}, nil
}

// redact strips the bot token from transport errors, which embed the request URL.
func (u *TelegramUploader) redact(err error) error {
	if u.token == "" || !strings.Contains(err.Error(), u.token) {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), u.token, "<redacted>")
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, context.DeadlineExceeded)
	}
	return errors.New(msg)
}
