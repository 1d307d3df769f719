package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
)

const leaderboardCacheControl = "public, max-age=30"

// periodDate returns the ?date query, defaulting to the current period.
func periodDate(c *gin.Context, d Deps, pt period.Type) (string, error) {
	date := c.Query("date")
	if date == "" {
		return period.ID(pt, d.Clock.Now()), nil
	}
	if err := period.Validate(pt, date); err != nil {
		return "", apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}
	return date, nil
}

// GetLeaderboard returns one page of a ranked table
func GetLeaderboard(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameType, err := parseGame(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		pt, err := parsePeriod(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		date, err := periodDate(c, d, pt)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		limit, err := queryInt(c, "limit", 10)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}

		entries, err := d.Leaderboard.TopScores(c.Request.Context(), gameType, pt, date, limit, offset)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		if entries == nil {
			entries = []models.LeaderboardEntry{}
		}

		c.Header("Cache-Control", leaderboardCacheControl)
		c.JSON(http.StatusOK, gin.H{
			"game_type":   gameType,
			"period_type": pt,
			"period_date": date,
			"offset":      offset,
			"entries":     entries,
		})
	}
}

// GetPlayerRank returns a player's entry and rank in one table
func GetPlayerRank(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameType, err := parseGame(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		pt, err := parsePeriod(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		date, err := periodDate(c, d, pt)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		player := models.NormalizeAddress(c.Param("address"))

		entry, err := d.Ranks.GetPlayerRank(c.Request.Context(), gameType, player, pt, date)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}
