package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402arcade/backend/internal/admin"
	"github.com/x402arcade/backend/internal/config"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/payment"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func paymentHeader(t *testing.T, from string) string {
	t.Helper()
	return encodePayload(t, payment.ExactPayload{
		Signature: "0x" + strings.Repeat("ab", 65),
		Authorization: payment.Authorization{
			From:        from,
			To:          "0x2222222222222222222222222222222222222222",
			Value:       "10000",
			ValidAfter:  "0",
			ValidBefore: "9999999999",
			Nonce:       "0x" + strings.Repeat("01", 32),
		},
	})
}

func encodePayload(t *testing.T, p payment.ExactPayload) string {
	t.Helper()
	h, err := payment.EncodeHeader(&payment.PaymentPayload{
		X402Version: payment.X402Version,
		Scheme:      "exact",
		Network:     "cronos-testnet",
		Payload:     p,
	})
	require.NoError(t, err)
	return h
}

func limitedRouter(t *testing.T, limit int, window time.Duration) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rl := NewRateLimiter(rdb, "play", limit, window, logger.Discard())
	r := gin.New()
	r.POST("/play", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, mr
}

func post(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/play", nil)
	if header != "" {
		req.Header.Set(payment.HeaderName, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerWallet(t *testing.T) {
	r, mr := limitedRouter(t, 2, time.Minute)
	alice := paymentHeader(t, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	bob := paymentHeader(t, "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")

	assert.Equal(t, http.StatusOK, post(r, alice).Code)
	assert.Equal(t, http.StatusOK, post(r, alice).Code)

	w := post(r, alice)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, post(r, bob).Code, "other wallets have their own budget")

	mr.FastForward(61 * time.Second)
	assert.Equal(t, http.StatusOK, post(r, alice).Code)
}

func TestRateLimitFallsBackToIP(t *testing.T) {
	r, _ := limitedRouter(t, 1, time.Minute)

	assert.Equal(t, http.StatusOK, post(r, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, "garbage").Code)
}

func TestRateLimitIgnoresMalformedWalletClaims(t *testing.T) {
	r, _ := limitedRouter(t, 1, time.Minute)
	victim := "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

	// Unsigned headers naming the victim are counted against the sender's IP.
	forged := encodePayload(t, payment.ExactPayload{Authorization: payment.Authorization{From: victim}})
	assert.Equal(t, http.StatusOK, post(r, forged).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, forged).Code)

	assert.Equal(t, http.StatusOK, post(r, paymentHeader(t, victim)).Code)
}

func TestClientKey(t *testing.T) {
	for name, tc := range map[string]struct {
		header string
		want   string
	}{
		"valid payload": {paymentHeader(t, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), "wallet:0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		"no header":     {"", "ip:192.0.2.1"},
		"not base64":    {"%%%", "ip:192.0.2.1"},
		"bare from":     {encodePayload(t, payment.ExactPayload{Authorization: payment.Authorization{From: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}}), "ip:192.0.2.1"},
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodPost, "/play", nil)
			if tc.header != "" {
				c.Request.Header.Set(payment.HeaderName, tc.header)
			}
			assert.Equal(t, tc.want, ClientKey(c))
		})
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	r, mr := limitedRouter(t, 1, time.Minute)
	mr.Close()

	assert.Equal(t, http.StatusOK, post(r, "").Code)
	assert.Equal(t, http.StatusOK, post(r, "").Code)
}

func TestRequireAdmin(t *testing.T) {
	hash, err := admin.HashPassword("operator-pass")
	require.NoError(t, err)
	auth := admin.NewAuthenticator(&config.Config{
		AdminUsername:     "ops",
		AdminPasswordHash: hash,
		JWTSecret:         "secret",
	}, clockwork.NewRealClock())
	token, _, err := auth.Login("ops", "operator-pass")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/admin", RequireAdmin(auth), func(c *gin.Context) {
		claims := c.MustGet(AdminClaimsKey).(*admin.Claims)
		c.String(http.StatusOK, claims.Username)
	})

	for name, tc := range map[string]struct {
		header string
		want   int
	}{
		"missing": {"", http.StatusUnauthorized},
		"scheme":  {"Basic abc", http.StatusUnauthorized},
		"invalid": {"Bearer nope", http.StatusUnauthorized},
		"valid":   {"Bearer " + token, http.StatusOK},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	dev := AllowedOrigins(&config.Config{Environment: "development", FrontendURL: "http://localhost:5173"})
	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173"}, dev)

	prod := AllowedOrigins(&config.Config{Environment: "production", FrontendURL: "https://arcade.test, https://beta.arcade.test"})
	assert.Equal(t, []string{"https://arcade.test", "https://beta.arcade.test"}, prod)

	assert.Empty(t, AllowedOrigins(&config.Config{Environment: "production"}))
}

func TestWebSocketOriginCheck(t *testing.T) {
	r := gin.New()
	r.GET("/ws", WebSocketCORSCheck(&config.Config{Environment: "production", FrontendURL: "https://arcade.test"}),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	upgrade := func(origin string) int {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, upgrade("https://arcade.test"))
	assert.Equal(t, http.StatusForbidden, upgrade("https://evil.test"))
}
