// Package broker fans change events out to every feed subscriber of an
// owner, within one galleryd process or across several.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/quotebot/quotegallery/internal/quotes"
)

var (
	ErrClosed         = errors.New("broker closed")
	ErrSlowSubscriber = errors.New("subscriber fell behind")
	ErrNotImplemented = errors.New("not implemented")
)

type Broker interface {
	Publish(ctx context.Context, change quotes.Change) error
	// Subscribe delivers the owner's changes published after it returns.
	Subscribe(ctx context.Context, ownerID string) (quotes.ChangeStream, error)
	Close() error
}

type Factory func(dsn string) (Broker, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

// RegisterFactory makes BuildFromDSN route scheme to factory.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.factories[normalizeScheme(scheme)]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildFromDSN returns the broker a DSN names. An empty DSN means an
// in-process broker.
func BuildFromDSN(dsn string, capacity int) (Broker, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemory(capacity), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemory(capacity), nil
	case "redis", "rediss":
		return NewRedis(dsn, capacity)
	case "nats", "kafka":
		return nil, fmt.Errorf("%w: broker backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported broker scheme: %s", scheme)
	}
}
