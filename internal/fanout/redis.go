// Package fanout provides an optional Redis-backed cross-instance
// "store changed" signal. It does not carry process data — only a
// version-changed ping — so horizontally-scaled procscope instances can
// learn of changes committed on any replica without violating the
// no-cross-host-aggregation non-goal.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const storeChangedChannel = "procscope:store-changed"

// Bus publishes and subscribes to the store-changed signal. A nil *Bus is
// valid and acts as a no-op — callers that fail to connect to Redis fall
// back to in-memory-only fan-out within a single instance.
type Bus struct {
	rdb *redis.Client
}

// Connect attempts to connect to Redis at addr. The caller decides
// whether to fall back to in-memory-only operation on error.
func Connect(addr, password string, db int) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("fanout: redis connected", "addr", addr, "db", db)
	return &Bus{rdb: rdb}, nil
}

// Close releases the underlying connection.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.rdb.Close()
}

// PublishChanged announces that the local orchestrator committed a scan to
// its store. Errors are logged, never propagated — a missed ping only
// leaves another replica's remote-change count short, it never corrupts
// state.
func (b *Bus) PublishChanged(ctx context.Context) {
	if b == nil {
		return
	}
	if err := b.rdb.Publish(ctx, storeChangedChannel, "1").Err(); err != nil {
		slog.Warn("fanout: publish failed", "err", err)
	}
}

// OnChanged invokes handler every time another instance publishes a
// store-changed signal. Returns a no-op unsubscribe if the bus is nil.
func (b *Bus) OnChanged(ctx context.Context, handler func()) (func(), error) {
	if b == nil {
		return func() {}, nil
	}

	sub := b.rdb.Subscribe(ctx, storeChangedChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("fanout: subscribe failed: %w", err)
	}

	ch := sub.Channel()
	go func() {
		for range ch {
			handler()
		}
	}()

	return func() { sub.Close() }, nil
}
