// Package sqlstore implements the store contracts on a relational database through sqlx.
// The same queries run on Postgres (lib/pq) and embedded SQLite (modernc); placeholders are
// written as ? and rebound for the active driver.
package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type base struct {
	db    *sqlx.DB
	clock clockwork.Clock
	opts  store.Options
	log   logrus.FieldLogger
}

// New wires the SQL adapters over one connection pool.
func New(db *sqlx.DB, clock clockwork.Clock, opts store.Options, log logrus.FieldLogger) store.Stores {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := &base{db: db, clock: clock, opts: opts.WithDefaults(), log: logger.Component(log, "sqlstore")}
	return store.Stores{
		Sessions:    &SessionStore{b},
		Leaderboard: &LeaderboardStore{b},
		Pools:       &PrizePoolStore{b},
		Nonces:      &NonceStore{b},
		Ping:        db.PingContext,
		Close:       db.Close,
	}
}

// now is truncated to microseconds, the precision Postgres keeps.
func (b *base) now() time.Time {
	return b.clock.Now().UTC().Truncate(time.Microsecond)
}

func (b *base) q(query string) string {
	return b.db.Rebind(query)
}

func (b *base) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return b.db.BeginTxx(ctx, nil)
}

// uniqueViolation reports whether err is a unique constraint failure and returns
// the constraint (Postgres) or the failing columns (SQLite) for disambiguation.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" {
			return pqErr.Constraint + " " + pqErr.Detail, true
		}
		return "", false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return liteErr.Error(), true
		}
		return "", false
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return err.Error(), true
	}
	return "", false
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
