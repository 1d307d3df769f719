package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/payment"
)

// ListGames returns the catalog with prices
func ListGames(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"games": d.Games.Catalog()})
	}
}

// PlayGame settles the X-PAYMENT header and opens a session. Without the header
// it answers 402 with the payment requirements for the game.
func PlayGame(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameType, err := parseGame(c)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		resource := resourceURL(c)

		header := strings.TrimSpace(c.GetHeader(payment.HeaderName))
		if header == "" {
			reqs, err := d.Games.Requirements(gameType, resource)
			if err != nil {
				respondError(c, d.Log, err)
				return
			}
			c.JSON(http.StatusPaymentRequired, gin.H{
				"x402Version": payment.X402Version,
				"error":       payment.HeaderName + " header is required",
				"accepts":     []payment.Requirements{reqs},
			})
			return
		}

		result, err := d.Games.StartSession(c.Request.Context(), gameType, header, resource)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}

		receipt, err := payment.EncodeReceipt(payment.Receipt{
			Success:     true,
			Transaction: result.Transaction.Hash,
			Network:     payment.NetworkName(d.Config.ChainID),
			Payer:       result.Session.PlayerAddress,
		})
		if err == nil {
			c.Header(payment.ResponseHeaderName, receipt)
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{
			"session":     result.Session,
			"transaction": result.Transaction,
			"replayed":    result.Replayed,
		})
	}
}

// GetSession returns one session by id
func GetSession(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, d.Log, apperr.Validation(apperr.CodeInvalidInput, "invalid session id"))
			return
		}
		session, err := d.Games.GetSession(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

type submitScoreRequest struct {
	SessionID     string `json:"session_id"`
	Score         *int64 `json:"score"`
	PlayerAddress string `json:"player_address"`
}

// SubmitScore completes a session and returns the player's ranks
func SubmitScore(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitScoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, d.Log, apperr.Validation(apperr.CodeInvalidInput, "invalid request body"))
			return
		}

		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			respondError(c, d.Log, apperr.Validation(apperr.CodeInvalidInput, "invalid session_id"))
			return
		}
		if req.Score == nil {
			respondError(c, d.Log, apperr.Validation(apperr.CodeInvalidScore, "score is required"))
			return
		}

		result, err := d.Games.SubmitScore(c.Request.Context(), id, *req.Score, req.PlayerAddress)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// PlayerSessions lists a wallet's sessions, newest first
func PlayerSessions(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit", 20)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		sessions, err := d.Games.PlayerSessions(c.Request.Context(), c.Param("address"), limit)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
	}
}

// PlayerStats summarizes a wallet's play history
func PlayerStats(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := d.Games.PlayerStats(c.Request.Context(), c.Param("address"))
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.Header("Cache-Control", "public, max-age=30")
		c.JSON(http.StatusOK, stats)
	}
}
