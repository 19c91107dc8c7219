package utils

import (
	"net/http"
	"testing"
)

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected bool
	}{
		{name: "ok", code: http.StatusOK, expected: false},
		{name: "bad request", code: http.StatusBadRequest, expected: false},
		{name: "not found", code: http.StatusNotFound, expected: false},
		{name: "request timeout", code: http.StatusRequestTimeout, expected: true},
		{name: "throttled", code: http.StatusTooManyRequests, expected: true},
		{name: "internal error", code: http.StatusInternalServerError, expected: true},
		{name: "bad gateway", code: http.StatusBadGateway, expected: true},
		{name: "gateway timeout", code: http.StatusGatewayTimeout, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableStatus(tt.code); got != tt.expected {
				t.Errorf("IsRetryableStatus(%d) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}
