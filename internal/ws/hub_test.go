package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402arcade/backend/internal/game"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
	"github.com/x402arcade/backend/internal/period"
)

func startHub(t *testing.T) (*Hub, string, context.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(logger.Discard())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws/leaderboard/:gameType", hub.ServeLeaderboard)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), ctx
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) game.LeaderboardEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev game.LeaderboardEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestBroadcastReachesOnlyThatGame(t *testing.T) {
	hub, base, _ := startHub(t)

	snake := dial(t, base+"/ws/leaderboard/snake")
	tetris := dial(t, base+"/ws/leaderboard/tetris")
	require.Eventually(t, func() bool {
		return hub.Count(models.GameSnake) == 1 && hub.Count(models.GameTetris) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Broadcast(models.GameSnake, game.LeaderboardEvent{Type: game.EventLeaderboardUpdate, GameType: models.GameSnake, Score: 42})

	ev := readEvent(t, snake)
	assert.Equal(t, int64(42), ev.Score)

	require.NoError(t, tetris.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := tetris.ReadMessage()
	assert.Error(t, err, "tetris watchers get nothing")
}

func TestClientLeavesRoomOnClose(t *testing.T) {
	hub, base, _ := startHub(t)

	conn := dial(t, base+"/ws/leaderboard/pong")
	require.Eventually(t, func() bool { return hub.Count(models.GamePong) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	require.Eventually(t, func() bool { return hub.Count(models.GamePong) == 0 }, time.Second, 5*time.Millisecond)
}

func TestUnknownGameIsRejected(t *testing.T) {
	_, base, _ := startHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/leaderboard/chess", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRedisEventsFanOut(t *testing.T) {
	hub, base, ctx := startHub(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, hub.Subscribe(ctx, rdb))

	conn := dial(t, base+"/ws/leaderboard/breakout")
	require.Eventually(t, func() bool { return hub.Count(models.GameBreakout) == 1 }, time.Second, 5*time.Millisecond)

	sessionID := uuid.New()
	err := NewPublisher(rdb).PublishLeaderboardUpdate(context.Background(), game.LeaderboardEvent{
		Type:          game.EventLeaderboardUpdate,
		GameType:      models.GameBreakout,
		PlayerAddress: "0x1111111111111111111111111111111111111111",
		Score:         900,
		SessionID:     sessionID,
		Ranks:         map[period.Type]int{period.Daily: 1},
	})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, sessionID, ev.SessionID)
	assert.Equal(t, 1, ev.Ranks[period.Daily])
}
