package gallery

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotes"
)

// Transport opens push subscriptions for one owner.
type Transport interface {
	Subscribe(ctx context.Context, ownerID string) (quotes.ChangeStream, error)
}

type SubscriberOptions struct {
	Transport Transport
	// OnChange receives every change addressed to the subscribed owner.
	OnChange func(ctx context.Context, generation uint64, change quotes.Change)
	// OnHealth receives Connected once the stream is open and Disconnected
	// when it fails. It is not called for a released subscription.
	OnHealth func(ctx context.Context, generation uint64, health Health)
	Logger   logrus.FieldLogger
	Metrics  *observability.Metrics
}

// Subscriber holds at most one live feed subscription. Each Acquire starts a
// new generation; the previous reader is torn down and has exited before the
// new one starts.
type Subscriber struct {
	opts   SubscriberOptions
	logger logrus.FieldLogger

	mu         sync.Mutex
	generation uint64
	owner      string
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewSubscriber(opts SubscriberOptions) *Subscriber {
	return &Subscriber{opts: opts, logger: observability.OrDiscard(opts.Logger)}
}

// Acquire subscribes to owner's changes and returns the new generation.
func (s *Subscriber) Acquire(ctx context.Context, owner string) uint64 {
	s.Release()

	s.mu.Lock()
	s.generation++
	generation := s.generation
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.owner = owner
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.opts.Metrics.AddFeedSubscribers(1)
	go s.run(subCtx, generation, owner, done)
	return generation
}

// Release tears the current subscription down and waits for its reader to
// exit. Releasing with nothing acquired is a no-op.
func (s *Subscriber) Release() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.owner = ""
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.opts.Metrics.AddFeedSubscribers(-1)
}

func (s *Subscriber) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Subscriber) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *Subscriber) run(ctx context.Context, generation uint64, owner string, done chan struct{}) {
	defer close(done)
	logger := s.logger.WithFields(logrus.Fields{"owner": owner, "generation": generation})
	if s.opts.Transport == nil {
		s.health(ctx, generation, Disconnected)
		return
	}
	stream, err := s.opts.Transport.Subscribe(ctx, owner)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).Warn("feed subscribe failed")
		}
		s.health(ctx, generation, Disconnected)
		return
	}
	defer stream.Close()
	logger.Info("feed subscribed")
	s.health(ctx, generation, Connected)

	for {
		change, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				logger.Warn("feed timed out")
			} else {
				logger.WithError(err).Warn("feed closed")
			}
			s.health(ctx, generation, Disconnected)
			return
		}
		if change.OwnerID != owner {
			s.opts.Metrics.RecordNotification(string(change.Kind), outcomeForeignOwner)
			logger.WithField("changeOwner", change.OwnerID).Debug("dropped change for another owner")
			continue
		}
		if s.opts.OnChange != nil {
			s.opts.OnChange(ctx, generation, change)
		}
	}
}

func (s *Subscriber) health(ctx context.Context, generation uint64, h Health) {
	if ctx.Err() != nil || s.opts.OnHealth == nil {
		return
	}
	s.opts.OnHealth(ctx, generation, h)
}
