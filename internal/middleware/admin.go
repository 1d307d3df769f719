package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/x402arcade/backend/internal/admin"
	"github.com/x402arcade/backend/internal/apperr"
)

// AdminClaimsKey is the gin context key holding *admin.Claims after RequireAdmin.
const AdminClaimsKey = "admin_claims"

// RequireAdmin accepts only requests carrying a valid operator bearer token.
func RequireAdmin(auth *admin.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortJSON(c, http.StatusUnauthorized, gin.H{
				"error": "Authorization required",
				"code":  apperr.CodeUnauthorized,
			})
			return
		}

		claims, err := auth.Parse(strings.TrimSpace(token))
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
				"code":  apperr.CodeUnauthorized,
			})
			return
		}

		c.Set(AdminClaimsKey, claims)
		c.Next()
	}
}
