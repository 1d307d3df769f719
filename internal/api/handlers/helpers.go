package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/admin"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/config"
	"github.com/x402arcade/backend/internal/game"
	"github.com/x402arcade/backend/internal/leaderboard"
	"github.com/x402arcade/backend/internal/middleware"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/payment"
	"github.com/x402arcade/backend/internal/period"
	"github.com/x402arcade/backend/internal/scheduler"
	"github.com/x402arcade/backend/internal/store"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Config      *config.Config
	Games       *game.Service
	Leaderboard *leaderboard.Cache
	Ranks       store.LeaderboardStore
	Pools       store.PrizePoolStore
	Scheduler   *scheduler.Scheduler
	Health      *payment.HealthChecker
	Pings       map[string]Pinger
	Auth        *admin.Authenticator
	Clock       clockwork.Clock
	Log         logrus.FieldLogger
}

// respondError maps the error taxonomy onto HTTP statuses. Internal detail is logged, never returned.
// Every error body carries the request id so clients can quote it.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	status := statusFor(err)
	code := apperr.CodeOf(err)
	requestID := middleware.GetRequestID(c)
	log = log.WithField("request_id", requestID)

	if status >= http.StatusInternalServerError && apperr.KindOf(err) == apperr.KindInternal {
		log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("Request failed")
		c.JSON(status, gin.H{"error": "Internal server error", "code": apperr.CodeInternal, "request_id": requestID})
		return
	}

	body := gin.H{"error": message(err), "code": code, "request_id": requestID}
	var ve *payment.ValidationError
	if errors.As(err, &ve) {
		body["violations"] = ve.Violations
	}
	var te *payment.TransportError
	if errors.As(err, &te) {
		log.WithError(err).WithField("reason", te.Reason).Warn("Settlement did not complete")
		if te.Reason == payment.ReasonTimeout {
			body["timeout_ms"] = te.Timeout.Milliseconds()
		}
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	if apperr.CodeOf(err) == apperr.CodeUnauthorized {
		return http.StatusUnauthorized
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransport:
		var te *payment.TransportError
		if errors.As(err, &te) {
			switch te.Reason {
			case payment.ReasonTimeout:
				return http.StatusGatewayTimeout
			case payment.ReasonRejected:
				return http.StatusPaymentRequired
			}
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func message(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	var te *payment.TransportError
	if errors.As(err, &te) && te.Reason == payment.ReasonRejected && te.Message != "" {
		return te.Message
	}
	return err.Error()
}

func parseGame(c *gin.Context) (models.GameType, error) {
	g, err := game.Parse(c.Param("gameType"))
	if err != nil {
		return "", err
	}
	return g.Type, nil
}

func parsePeriod(c *gin.Context) (period.Type, error) {
	pt, err := period.ParseType(c.Param("periodType"))
	if err != nil {
		return "", apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}
	return pt, nil
}

func parsePoolPeriod(c *gin.Context) (period.Type, error) {
	pt, err := parsePeriod(c)
	if err != nil {
		return "", err
	}
	if err := store.CheckPoolPeriod(pt); err != nil {
		return "", err
	}
	return pt, nil
}

// queryInt reads a non-negative integer query parameter, returning def when absent.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(apperr.CodeInvalidInput, "%s must be a non-negative integer", name)
	}
	return n, nil
}

// resourceURL is the absolute URL of the current request, used as the x402 resource.
func resourceURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}
