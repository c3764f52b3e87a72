package alert

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenRuleUpdates is a resilient subscription to the rules-updated signal:
// it survives Redis restarts by resubscribing, and forces a refresh on every
// reconnect so a missed signal cannot leave the snapshot stale forever.
func ListenRuleUpdates(ctx context.Context, rdb *redis.Client, logger *zap.Logger, channel string, refresh func(context.Context) error) {
	log := logger.With(zap.String("mod", "alerts"), zap.String("chan", channel))

	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			log.Error("failed to subscribe", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Resync on every successful connect.
		if err := refresh(ctx); err != nil {
			log.Error("refresh on reconnect failed", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break loop // connection lost, resubscribe
				}
				if err := refresh(ctx); err != nil {
					log.Error("signaled refresh failed", zap.Error(err))
				}
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}
