package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quotebot/quotegallery/internal/feed"
	"github.com/quotebot/quotegallery/internal/quotes"
)

const redisChannelPrefix = "quotegallery:changes:"

// Redis fans changes out through redis pub/sub so every galleryd instance
// sees every owner's events. Frames use the feed wire encoding.
type Redis struct {
	client   *redis.Client
	capacity int
}

func NewRedis(dsn string, capacity int) (*Redis, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Redis{client: client, capacity: capacity}, nil
}

func channelFor(ownerID string) string {
	return redisChannelPrefix + ownerID
}

func (r *Redis) Publish(ctx context.Context, change quotes.Change) error {
	frame, err := feed.Encode(change)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, channelFor(change.OwnerID), frame).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, ownerID string) (quotes.ChangeStream, error) {
	ps := r.client.Subscribe(ctx, channelFor(ownerID))
	// Receive blocks until the subscription is confirmed, so nothing
	// published after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}
	return &redisSub{ps: ps, ch: ps.Channel(redis.WithChannelSize(r.capacity))}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSub struct {
	ps *redis.PubSub
	ch <-chan *redis.Message
}

func (s *redisSub) Next(ctx context.Context) (quotes.Change, error) {
	for {
		select {
		case msg, ok := <-s.ch:
			if !ok {
				return quotes.Change{}, ErrClosed
			}
			change, err := feed.Decode([]byte(msg.Payload))
			if err != nil {
				continue
			}
			return change, nil
		case <-ctx.Done():
			return quotes.Change{}, ctx.Err()
		}
	}
}

func (s *redisSub) Close() error {
	return s.ps.Close()
}
