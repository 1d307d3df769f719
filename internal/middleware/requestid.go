package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key holding the request id.
	RequestIDKey = "request_id"

	maxRequestIDLength = 128
)

// RequestID adopts the caller's X-Request-ID when it is well formed, otherwise generates one.
// The id is stored on the context and echoed on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the id set by RequestID, or "" outside it.
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// validRequestID allows letters, digits and ".-_:" so ids are safe to log verbatim.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}

// abortJSON stops the chain with body, tagged with the request id when there is one.
func abortJSON(c *gin.Context, status int, body gin.H) {
	if id := GetRequestID(c); id != "" {
		body["request_id"] = id
	}
	c.AbortWithStatusJSON(status, body)
}
