package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/admin"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/middleware"
)

// AdminLogin exchanges operator credentials for a bearer token
func AdminLogin(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": apperr.CodeInvalidInput})
			return
		}

		username := strings.TrimSpace(req.Username)
		token, expiresAt, err := d.Auth.Login(username, req.Password)
		if err != nil {
			d.Log.WithField("username", username).WithField("ip", c.ClientIP()).Warn("Admin login failed")
			respondError(c, d.Log, err)
			return
		}

		d.Log.WithField("username", username).Info("Admin logged in")
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"token_type": "Bearer",
			"expires_at": expiresAt.UTC(),
		})
	}
}

// JobsStatus reports scheduler state and per-job next/last runs
func JobsStatus(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Scheduler.GetStats())
	}
}

// JobsHistory returns recent executions, newest first
func JobsHistory(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit", 50)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		history := d.Scheduler.GetExecutionHistory(limit)
		c.JSON(http.StatusOK, gin.H{"executions": history, "count": len(history)})
	}
}

// TriggerJob starts a job in the background
func TriggerJob(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := d.Scheduler.TriggerJob(name); err != nil {
			respondError(c, d.Log, err)
			return
		}
		d.Log.WithFields(logrus.Fields{"job": name, "admin": adminName(c)}).Info("Job triggered manually")
		c.JSON(http.StatusAccepted, gin.H{"job": name, "status": "triggered"})
	}
}

func adminName(c *gin.Context) string {
	if v, ok := c.Get(middleware.AdminClaimsKey); ok {
		if claims, ok := v.(*admin.Claims); ok {
			return claims.Username
		}
	}
	return ""
}
