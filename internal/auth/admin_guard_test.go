package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media_gateway/internal/utils"
)

func TestAdminGuard_Check(t *testing.T) {
	g := NewAdminGuard("ANKIT@656")

	assert.True(t, g.Check("ANKIT@656"))
	assert.False(t, g.Check("ankit@656"))
	assert.False(t, g.Check("ANKIT@6566"))
	assert.False(t, g.Check(""))
}

func TestAdminGuard_EmptyTokenLocksEverything(t *testing.T) {
	g := NewAdminGuard("")

	assert.False(t, g.Check(""))
	assert.False(t, g.Check("anything"))
}

func TestAdminGuard_Middleware(t *testing.T) {
	g := NewAdminGuard("secret")
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("valid token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/keys?admin_key=secret", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("token with reserved characters", func(t *testing.T) {
		g := NewAdminGuard("ANKIT@656")
		h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/keys?admin_key=ANKIT%40656", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	for _, target := range []string{"/admin/keys", "/admin/keys?admin_key=wrong"} {
		t.Run("rejects "+target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var body utils.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Status)
			assert.Equal(t, "Unauthorized", body.Error)
		})
	}
}
