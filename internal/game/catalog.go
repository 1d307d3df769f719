package game

import (
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/usdc"
)

// Game describes one playable title and the bounds a legitimate score stays within.
type Game struct {
	Type               models.GameType `json:"game_type"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Price              usdc.Amount     `json:"price_usdc"`
	MaxScore           int64           `json:"max_score"`
	MaxPointsPerSecond int64           `json:"max_points_per_second"`
}

var catalog = map[models.GameType]Game{
	models.GameSnake: {
		Type:               models.GameSnake,
		Name:               "Snake",
		Description:        "Eat, grow, avoid your own tail",
		Price:              usdc.MustParse("0.01"),
		MaxScore:           10_000,
		MaxPointsPerSecond: 20,
	},
	models.GameTetris: {
		Type:               models.GameTetris,
		Name:               "Tetris",
		Description:        "Clear lines before the stack reaches the top",
		Price:              usdc.MustParse("0.02"),
		MaxScore:           999_999,
		MaxPointsPerSecond: 2_000,
	},
	models.GamePong: {
		Type:               models.GamePong,
		Name:               "Pong",
		Description:        "First to the rally limit against the CPU",
		Price:              usdc.MustParse("0.01"),
		MaxScore:           100,
		MaxPointsPerSecond: 1,
	},
	models.GameBreakout: {
		Type:               models.GameBreakout,
		Name:               "Breakout",
		Description:        "Break every brick without dropping the ball",
		Price:              usdc.MustParse("0.015"),
		MaxScore:           50_000,
		MaxPointsPerSecond: 200,
	},
	models.GameSpaceInvaders: {
		Type:               models.GameSpaceInvaders,
		Name:               "Space Invaders",
		Description:        "Hold the line against the descending waves",
		Price:              usdc.MustParse("0.025"),
		MaxScore:           200_000,
		MaxPointsPerSecond: 500,
	},
}

// Lookup returns the catalog entry for gameType.
func Lookup(gameType models.GameType) (Game, error) {
	g, ok := catalog[gameType]
	if !ok {
		return Game{}, apperr.Validation(apperr.CodeInvalidGame, "unknown game type %q", gameType)
	}
	return g, nil
}

// Parse validates a raw game type string against the catalog.
func Parse(s string) (Game, error) {
	gt, err := models.ParseGameType(s)
	if err != nil {
		return Game{}, apperr.Validation(apperr.CodeInvalidGame, "unknown game type %q", s)
	}
	return Lookup(gt)
}

// Catalog lists every game in display order.
func Catalog() []Game {
	games := make([]Game, 0, len(models.AllGameTypes))
	for _, gt := range models.AllGameTypes {
		games = append(games, catalog[gt])
	}
	return games
}
