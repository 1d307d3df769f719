package api

import (
	"github.com/gin-gonic/gin"
	"github.com/x402arcade/backend/internal/api/handlers"
	"github.com/x402arcade/backend/internal/middleware"
	"github.com/x402arcade/backend/internal/ws"
)

// Router bundles what SetupRoutes mounts beside the handler deps.
type Router struct {
	Deps        handlers.Deps
	Hub         *ws.Hub
	PlayLimiter *middleware.RateLimiter
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, r Router) {
	d := r.Deps
	cfg := d.Config

	router.Use(middleware.RequestID(), middleware.CORSMiddleware(cfg, d.Log))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			if c.Request.Method != "GET" {
				c.Header("Cache-Control", "no-store")
			}
			c.Next()
		})
	}

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(d))
		v1.GET("/games", handlers.ListGames(d))

		// Paid play; rate limited per paying wallet
		play := []gin.HandlerFunc{}
		if r.PlayLimiter != nil {
			play = append(play, r.PlayLimiter.Middleware())
		}
		play = append(play, handlers.PlayGame(d))
		v1.POST("/play/:gameType", play...)

		v1.GET("/session/:id", handlers.GetSession(d))
		v1.POST("/score", handlers.SubmitScore(d))
		v1.GET("/player/:address/sessions", handlers.PlayerSessions(d))
		v1.GET("/player/:address/stats", handlers.PlayerStats(d))

		lb := v1.Group("/leaderboard")
		{
			lb.GET("/:gameType/:periodType", handlers.GetLeaderboard(d))
			lb.GET("/:gameType/:periodType/player/:address", handlers.GetPlayerRank(d))
		}

		prize := v1.Group("/prize")
		{
			prize.GET("/:gameType/:periodType", handlers.GetCurrentPrizePool(d))
			prize.GET("/:gameType/:periodType/history", handlers.GetPrizePoolHistory(d))
		}

		if r.Hub != nil {
			v1.GET("/ws/leaderboard/:gameType", middleware.WebSocketCORSCheck(cfg), r.Hub.ServeLeaderboard)
		}

		v1.POST("/admin/login", handlers.AdminLogin(d))
		adm := v1.Group("/admin", middleware.RequireAdmin(d.Auth))
		{
			adm.GET("/jobs/status", handlers.JobsStatus(d))
			adm.GET("/jobs/history", handlers.JobsHistory(d))
			adm.POST("/jobs/:name/trigger", handlers.TriggerJob(d))
			adm.POST("/prize/:gameType/:periodType/:date/paid", handlers.MarkPrizePaid(d))
		}
	}
}
