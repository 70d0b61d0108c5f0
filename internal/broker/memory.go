package broker

import (
	"context"
	"sync"

	"github.com/quotebot/quotegallery/internal/quotes"
)

const defaultCapacity = 64

// Memory is an in-process broker. A subscriber whose buffer is full is
// closed with ErrSlowSubscriber rather than blocking publishers.
type Memory struct {
	capacity int

	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Memory{capacity: capacity, subs: map[string]map[*memorySub]struct{}{}}
}

func (m *Memory) Publish(ctx context.Context, change quotes.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs[change.OwnerID] {
		select {
		case sub.ch <- change:
		default:
			m.dropLocked(sub, ErrSlowSubscriber)
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, ownerID string) (quotes.ChangeStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{
		broker: m,
		owner:  ownerID,
		ch:     make(chan quotes.Change, m.capacity),
		done:   make(chan struct{}),
	}
	if m.subs[ownerID] == nil {
		m.subs[ownerID] = map[*memorySub]struct{}{}
	}
	m.subs[ownerID][sub] = struct{}{}
	return sub, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for sub := range subs {
			m.dropLocked(sub, ErrClosed)
		}
	}
	return nil
}

// Subscribers reports how many subscriptions are open for owner.
func (m *Memory) Subscribers(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[ownerID])
}

func (m *Memory) dropLocked(sub *memorySub, reason error) {
	subs := m.subs[sub.owner]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(m.subs, sub.owner)
	}
	sub.err = reason
	close(sub.done)
}

type memorySub struct {
	broker *Memory
	owner  string
	ch     chan quotes.Change
	done   chan struct{}
	// err is written once under the broker lock before done is closed.
	err error
}

func (s *memorySub) Next(ctx context.Context) (quotes.Change, error) {
	select {
	case change := <-s.ch:
		return change, nil
	default:
	}
	select {
	case change := <-s.ch:
		return change, nil
	case <-s.done:
		return quotes.Change{}, s.err
	case <-ctx.Done():
		return quotes.Change{}, ctx.Err()
	}
}

func (s *memorySub) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.dropLocked(s, ErrClosed)
	return nil
}
