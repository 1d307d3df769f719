package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/usdc"
)

func TestHeaderRoundTrip(t *testing.T) {
	header, err := EncodeHeader(validPayload())
	require.NoError(t, err)

	p, err := DecodeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, testPayer, p.Payload.Authorization.From)
	assert.Equal(t, "exact", p.Scheme)

	_, err = DecodeHeader("%%%")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = DecodeHeader("")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCheckRequirements(t *testing.T) {
	c := NewClient(testConfig("http://facilitator"), logger.Discard())
	reqs := c.NewRequirements(testArcade, "/api/games/snake/play", "Snake", usdc.MustParse("0.01"))
	assert.Equal(t, "10000", reqs.MaxAmountRequired)
	assert.Equal(t, "cronos-testnet", reqs.Network)

	now := time.Unix(1_800_000_000, 0)
	assert.NoError(t, CheckRequirements(validPayload(), reqs, now))

	short := validPayload()
	short.Payload.Authorization.Value = "9999"
	short.Payload.Authorization.To = testPayer
	short.Payload.Authorization.ValidBefore = "1700000000"

	err := CheckRequirements(short, reqs, now)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestPendingLock(t *testing.T) {
	mr, rdb := newRedis(t)
	lock := NewPendingLock(rdb, 30*time.Second)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "0xABC")
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "0xabc")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, apperr.CodePaymentPending, apperr.CodeOf(err))

	release()
	release2, err := lock.Acquire(ctx, "0xabc")
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)
	_, err = lock.Acquire(ctx, "0xabc")
	require.NoError(t, err)

	// A stale holder must not release the new owner's claim.
	release2()
	_, err = lock.Acquire(ctx, "0xabc")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestHealthChecker(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, rdb := newRedis(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	h := NewHealthChecker(NewClient(testConfig(srv.URL), logger.Discard()), rdb, clock)
	ctx := context.Background()

	cached, err := h.Cached(ctx)
	require.NoError(t, err)
	assert.Nil(t, cached)

	assert.True(t, h.Check(ctx).Healthy)
	cached, err = h.Cached(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.Healthy)
	assert.True(t, clock.Now().Equal(cached.CheckedAt))

	healthy.Store(false)
	h.Check(ctx)
	cached, err = h.Cached(ctx)
	require.NoError(t, err)
	assert.False(t, cached.Healthy)
	assert.Contains(t, cached.Error, "503")
}

func TestHealthCheckerIntervalCoversTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, rdb := newRedis(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	h := NewHealthChecker(NewClient(testConfig(srv.URL), logger.Discard()), rdb, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, 10*time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return hits.Load() == 2 }, time.Second, 5*time.Millisecond)
}
