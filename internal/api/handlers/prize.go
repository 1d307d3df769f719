package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/store"
)

// GetCurrentPrizePool returns the pool for the running period and its current leader.
// A period nobody has paid into yet reads as an empty active pool.
func GetCurrentPrizePool(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameType, err := parseGame(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		pt, err := parsePoolPeriod(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		ctx := c.Request.Context()
		date := period.ID(pt, d.Clock.Now())

		pool, err := d.Pools.GetPool(ctx, gameType, pt, date)
		if apperr.Is(err, apperr.KindNotFound) {
			pool, err = &models.PrizePool{
				GameType:   gameType,
				PeriodType: pt,
				PeriodDate: date,
				Status:     models.PoolActive,
			}, nil
		}
		if err != nil {
			respondError(c, d.Log, err)
			return
		}

		leader, err := d.Leaderboard.Leader(ctx, gameType, pt, date)
		if err != nil {
			d.Log.WithError(err).WithField("game_type", gameType).Warn("Failed to load current leader")
		}

		c.JSON(http.StatusOK, gin.H{"pool": pool, "leader": leader})
	}
}

// GetPrizePoolHistory lists past pools, newest period first
func GetPrizePoolHistory(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameType, err := parseGame(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		pt, err := parsePoolPeriod(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		limit, err := queryInt(c, "limit", 30)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}

		pools, err := d.Pools.ListPools(c.Request.Context(), gameType, pt, limit)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		if pools == nil {
			pools = []models.PrizePool{}
		}
		c.JSON(http.StatusOK, gin.H{"pools": pools, "count": len(pools)})
	}
}

// MarkPrizePaid records the payout transaction of a finalized pool
func MarkPrizePaid(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameType, err := parseGame(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		pt, err := parsePoolPeriod(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		date := c.Param("date")
		if err := store.CheckPoolKey(pt, date); err != nil {
			respondError(c, d.Log, err)
			return
		}

		var req struct {
			PayoutTxHash string `json:"payout_tx_hash"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PayoutTxHash) == "" {
			respondError(c, d.Log, apperr.Validation(apperr.CodeInvalidInput, "payout_tx_hash is required"))
			return
		}

		pool, err := d.Pools.MarkAsPaid(c.Request.Context(), gameType, pt, date, req.PayoutTxHash)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}

		d.Log.WithFields(logrus.Fields{
			"game_type": gameType,
			"period":    pt,
			"date":      date,
			"tx_hash":   req.PayoutTxHash,
			"admin":     adminName(c),
		}).Info("Prize pool marked as paid")
		c.JSON(http.StatusOK, pool)
	}
}
