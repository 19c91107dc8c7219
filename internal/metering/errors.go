package metering

import "errors"

// Client-facing failures. The messages are returned verbatim in the
// {status:false,error} body.
var (
	ErrInvalidKey    = errors.New("Invalid API key")
	ErrKeyExpired    = errors.New("API key expired")
	ErrQuotaExceeded = errors.New("Daily limit exceeded")
	ErrRateLimited   = errors.New("Rate limit exceeded")
)

// IsClientError reports whether err is one of the key or quota failures above.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrKeyExpired) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrRateLimited)
}
