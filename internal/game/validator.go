package game

import (
	"time"

	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
)

// ScoreValidator decides whether a submitted score is plausible for a session.
type ScoreValidator interface {
	Validate(session *models.GameSession, score int64, now time.Time) error
}

// BoundsValidator checks a score against the catalog's max score and scoring rate.
type BoundsValidator struct {
	// Grace is added to the elapsed play time before applying the rate bound.
	Grace time.Duration
}

func (v BoundsValidator) Validate(session *models.GameSession, score int64, now time.Time) error {
	g, err := Lookup(session.GameType)
	if err != nil {
		return err
	}
	if score < 0 {
		return apperr.Validation(apperr.CodeInvalidScore, "score must not be negative")
	}
	if score > g.MaxScore {
		return apperr.Validation(apperr.CodeInvalidScore, "score %d exceeds the %s maximum of %d", score, g.Name, g.MaxScore)
	}

	grace := v.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	elapsed := now.Sub(session.CreatedAt) + grace
	limit := int64(elapsed.Seconds()) * g.MaxPointsPerSecond
	if score > limit {
		return apperr.Validation(apperr.CodeInvalidScore, "score %d is not reachable in %s of %s", score, now.Sub(session.CreatedAt).Round(time.Second), g.Name)
	}
	return nil
}
