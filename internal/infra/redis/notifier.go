package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ctf-scoring-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Notifier fans ledger changes out across instances with Redis pub/sub.
// Each scope maps to its own channel: ctf:changes:{scope}.
type Notifier struct {
	client *redis.Client
	logger *slog.Logger
}

func NewNotifier(client *redis.Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, logger: logger.With("component", "redis_notifier")}
}

func (n *Notifier) Publish(ctx context.Context, change domain.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := n.client.Publish(ctx, channelFor(change.Scope), payload).Err(); err != nil {
		return domain.Unavailable("publish change", err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription, so changes published
// after it returns are never missed.
func (n *Notifier) Subscribe(ctx context.Context, scope domain.Scope) (<-chan domain.Change, func(), error) {
	pubsub := n.client.Subscribe(ctx, channelFor(scope))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, domain.Unavailable("subscribe", err)
	}

	out := make(chan domain.Change, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for msg := range pubsub.Channel() {
			var change domain.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				n.logger.Warn("drop malformed change", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case out <- change:
			default:
				// full buffer: keep the newest
				select {
				case <-out:
				default:
				}
				out <- change
			}
		}
	}()

	cancel := func() {
		_ = pubsub.Close()
		<-done
	}
	return out, cancel, nil
}

func channelFor(scope domain.Scope) string {
	return "ctf:changes:" + scope.String()
}
