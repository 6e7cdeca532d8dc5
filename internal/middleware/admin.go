package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminMiddleware guards cache-control endpoints with a static admin API key.
type AdminMiddleware struct {
	apiKey     string
	apiKeyHash []byte
}

// NewAdminMiddleware creates the admin guard. When apiKeyHash is set the
// presented key is verified against the bcrypt hash and apiKey is ignored.
// With neither configured every request is rejected.
func NewAdminMiddleware(apiKey, apiKeyHash string) *AdminMiddleware {
	am := &AdminMiddleware{apiKey: apiKey}
	if apiKeyHash != "" {
		am.apiKeyHash = []byte(apiKeyHash)
	}
	return am
}

// RequireAdminAuth middleware validates admin API keys
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, key := range presentedKeys(c) {
			if am.ValidateAdminKey(key) {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Valid admin API key required for this endpoint",
		})
		c.Abort()
	}
}

// presentedKeys collects candidate keys from the Bearer header, X-API-Key and
// the api_key query parameter, in that order.
func presentedKeys(c *gin.Context) []string {
	var keys []string
	if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		keys = append(keys, parts[1])
	}
	if key := c.GetHeader("X-API-Key"); key != "" {
		keys = append(keys, key)
	}
	if key := c.Query("api_key"); key != "" {
		keys = append(keys, key)
	}
	return keys
}

// ValidateAdminKey validates an admin API key
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if key == "" {
		return false
	}
	if len(am.apiKeyHash) > 0 {
		return bcrypt.CompareHashAndPassword(am.apiKeyHash, []byte(key)) == nil
	}
	if am.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(am.apiKey)) == 1
}
