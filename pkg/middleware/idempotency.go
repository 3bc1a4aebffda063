package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/response"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency key
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ContextKeyIdempotencyKey is the context key for idempotency key
	ContextKeyIdempotencyKey = "idempotency_key"
	// MaxIdempotencyKeyLength bounds the stored key size
	MaxIdempotencyKeyLength = 255
)

// IdempotencyKey validates the optional idempotency header and stores it on the context.
// Deduplication itself happens in the transaction orchestrator.
func IdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
		if key == "" {
			c.Next()
			return
		}

		if len(key) > MaxIdempotencyKeyLength {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR",
				"idempotency key too long", "maximum length is 255 characters")
			c.Abort()
			return
		}
		for _, r := range key {
			if r < 0x21 || r > 0x7e {
				response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR",
					"idempotency key contains invalid characters", "printable ASCII only")
				c.Abort()
				return
			}
		}

		c.Set(ContextKeyIdempotencyKey, key)
		c.Next()
	}
}

// GetIdempotencyKey returns the validated idempotency key, or "" when absent
func GetIdempotencyKey(c *gin.Context) string {
	return c.GetString(ContextKeyIdempotencyKey)
}
