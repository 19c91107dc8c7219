package utils

import "net/http"

// IsRetryableStatus reports whether an upstream HTTP status is worth retrying:
// request timeouts, throttling and server side failures.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
