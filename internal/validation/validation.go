// Package validation provides input validation for dashboard requests.
package validation

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize bounds request bodies. The only form posted is the session
// reset, which carries a single field.
const MaxRequestSize = 16 << 10

// uidRegex matches a subnet uid: a short non-negative decimal.
var uidRegex = regexp.MustCompile(`^[0-9]{1,5}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidUID reports whether s looks like a validator or miner uid.
func IsValidUID(s string) bool {
	return uidRegex.MatchString(s)
}

// UIDParamMiddleware rejects a malformed :uid URL parameter early.
func UIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("uid")
		if uid != "" && !IsValidUID(uid) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_uid",
				"message": "uid must be a decimal number",
			})
			return
		}
		c.Next()
	}
}
