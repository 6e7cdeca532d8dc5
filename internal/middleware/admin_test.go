package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAdminRouter(am *AdminMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(am.RequireAdminAuth())
	router.DELETE("/api/v1/cache", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return router
}

func TestAdminMiddleware_RequireAdminAuth(t *testing.T) {
	router := newAdminRouter(NewAdminMiddleware("test-admin-key", ""))

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		target     string
		wantStatus int
	}{
		{
			name:       "bearer header",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer test-admin-key") },
			target:     "/api/v1/cache",
			wantStatus: http.StatusOK,
		},
		{
			name:       "lowercase bearer scheme",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "bearer test-admin-key") },
			target:     "/api/v1/cache",
			wantStatus: http.StatusOK,
		},
		{
			name:       "X-API-Key header",
			setup:      func(r *http.Request) { r.Header.Set("X-API-Key", "test-admin-key") },
			target:     "/api/v1/cache",
			wantStatus: http.StatusOK,
		},
		{
			name:       "query parameter",
			setup:      func(r *http.Request) {},
			target:     "/api/v1/cache?api_key=test-admin-key",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong bearer falls through to valid header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer nope")
				r.Header.Set("X-API-Key", "test-admin-key")
			},
			target:     "/api/v1/cache",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong key",
			setup:      func(r *http.Request) { r.Header.Set("X-API-Key", "nope") },
			target:     "/api/v1/cache",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no key",
			setup:      func(r *http.Request) {},
			target:     "/api/v1/cache",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, tt.target, nil)
			tt.setup(req)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), "admin API key required")
			}
		})
	}
}

func TestAdminMiddleware_ValidateAdminKey(t *testing.T) {
	t.Run("plaintext key", func(t *testing.T) {
		am := NewAdminMiddleware("secret", "")
		assert.True(t, am.ValidateAdminKey("secret"))
		assert.False(t, am.ValidateAdminKey("Secret"))
		assert.False(t, am.ValidateAdminKey(""))
	})

	t.Run("bcrypt hash takes precedence", func(t *testing.T) {
		hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
		require.NoError(t, err)

		am := NewAdminMiddleware("secret", string(hash))
		assert.True(t, am.ValidateAdminKey("hashed-secret"))
		assert.False(t, am.ValidateAdminKey("secret"))
	})

	t.Run("nothing configured", func(t *testing.T) {
		am := NewAdminMiddleware("", "")
		assert.False(t, am.ValidateAdminKey("anything"))
	})
}
