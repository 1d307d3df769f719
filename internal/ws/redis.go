package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/x402arcade/backend/internal/game"
)

// EventsChannel carries leaderboard updates between processes.
const EventsChannel = "leaderboard_events"

// Publisher sends leaderboard events to Redis.
type Publisher struct {
	rdb redis.UniversalClient
}

var _ game.EventPublisher = (*Publisher)(nil)

func NewPublisher(rdb redis.UniversalClient) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) PublishLeaderboardUpdate(ctx context.Context, ev game.LeaderboardEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish leaderboard event: %w", err)
	}
	return nil
}

// Subscribe forwards leaderboard events from Redis to the hub until ctx is done.
// It returns once the subscription is confirmed.
func (h *Hub) Subscribe(ctx context.Context, rdb redis.UniversalClient) error {
	pubsub := rdb.Subscribe(ctx, EventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", EventsChannel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		h.log.WithField("channel", EventsChannel).Info("Leaderboard event subscriber started")
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev game.LeaderboardEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					h.log.WithError(err).Warn("Invalid leaderboard event payload")
					continue
				}
				h.Broadcast(ev.GameType, ev)
			}
		}
	}()
	return nil
}
