package gallery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotebot/quotegallery/internal/quotes"
)

type recorder struct {
	mu      sync.Mutex
	changes []quotes.Change
	gens    []uint64
	health  []Health
}

func (r *recorder) options(transport Transport) SubscriberOptions {
	return SubscriberOptions{
		Transport: transport,
		OnChange: func(ctx context.Context, generation uint64, change quotes.Change) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changes = append(r.changes, change)
			r.gens = append(r.gens, generation)
		},
		OnHealth: func(ctx context.Context, generation uint64, health Health) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.health = append(r.health, health)
		},
	}
}

func (r *recorder) changeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recorder) lastHealth() Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.health) == 0 {
		return Connecting
	}
	return r.health[len(r.health)-1]
}

func TestSubscriberDeliversOwnChangesOnly(t *testing.T) {
	transport := &fakeTransport{}
	rec := &recorder{}
	sub := NewSubscriber(rec.options(transport))
	defer sub.Release()

	gen := sub.Acquire(context.Background(), testOwner)
	require.Eventually(t, func() bool { return rec.lastHealth() == Connected }, time.Second, 5*time.Millisecond)

	stream := transport.latest()
	stream.changes <- quotes.DeletedChange("e1", "someone-else", "x")
	stream.changes <- quotes.DeletedChange("e2", testOwner, "a")
	require.Eventually(t, func() bool { return rec.changeCount() == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "a", rec.changes[0].ArtifactID)
	assert.Equal(t, gen, rec.gens[0])
}

func TestSubscriberAcquireReplacesPreviousSubscription(t *testing.T) {
	transport := &fakeTransport{}
	rec := &recorder{}
	sub := NewSubscriber(rec.options(transport))
	defer sub.Release()

	first := sub.Acquire(context.Background(), testOwner)
	require.Eventually(t, func() bool { return transport.count() == 1 }, time.Second, 5*time.Millisecond)
	old := transport.latest()

	second := sub.Acquire(context.Background(), "owner-2")
	assert.Greater(t, second, first)
	assert.True(t, old.isClosed(), "previous stream must be closed before Acquire returns")
	assert.Equal(t, "owner-2", sub.Owner())

	require.Eventually(t, func() bool { return transport.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "owner-2", transport.latest().owner)
}

func TestSubscriberReportsDisconnectOnFailure(t *testing.T) {
	transport := &fakeTransport{}
	rec := &recorder{}
	sub := NewSubscriber(rec.options(transport))
	defer sub.Release()

	sub.Acquire(context.Background(), testOwner)
	require.Eventually(t, func() bool { return rec.lastHealth() == Connected }, time.Second, 5*time.Millisecond)

	transport.latest().fail <- errors.New("socket reset")
	require.Eventually(t, func() bool { return rec.lastHealth() == Disconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, transport.count(), "no automatic reconnect")
}

func TestSubscriberReportsDisconnectWhenSubscribeFails(t *testing.T) {
	transport := &fakeTransport{err: errors.New("dial refused")}
	rec := &recorder{}
	sub := NewSubscriber(rec.options(transport))
	defer sub.Release()

	sub.Acquire(context.Background(), testOwner)
	require.Eventually(t, func() bool { return rec.lastHealth() == Disconnected }, time.Second, 5*time.Millisecond)
}

func TestSubscriberReleaseIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	rec := &recorder{}
	sub := NewSubscriber(rec.options(transport))

	sub.Release()
	sub.Acquire(context.Background(), testOwner)
	require.Eventually(t, func() bool { return transport.count() == 1 }, time.Second, 5*time.Millisecond)
	sub.Release()
	sub.Release()

	assert.True(t, transport.latest().isClosed())
	assert.Empty(t, sub.Owner())
}
