package quotestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/broker"
	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotes"
)

type ServiceOptions struct {
	Store   Store
	Broker  broker.Broker
	Objects ObjectRemover
	Policy  Policy
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Service applies artifact mutations and publishes the resulting changes.
// A change is published only after the store committed it.
type Service struct {
	store   Store
	broker  broker.Broker
	objects ObjectRemover
	policy  Policy
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil || opts.Broker == nil {
		return nil, fmt.Errorf("%w: store and broker are required", quotes.ErrInvalidInput)
	}
	if opts.Objects == nil {
		opts.Objects = NoopObjects{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy.DefaultLimit == 0 && opts.Policy.Owners == nil {
		opts.Policy = DefaultPolicy()
	}
	return &Service{
		store:   opts.Store,
		broker:  opts.Broker,
		objects: opts.Objects,
		policy:  opts.Policy,
		logger:  observability.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
		now:     opts.Now,
	}, nil
}

func (s *Service) Broker() broker.Broker {
	return s.broker
}

func (s *Service) Page(ctx context.Context, ownerID string, q quotes.PageQuery) (quotes.Page, error) {
	q = q.Normalize()
	items, total, err := s.store.List(ctx, ownerID, q)
	if err != nil {
		return quotes.Page{}, err
	}
	used, err := s.store.Count(ctx, ownerID)
	if err != nil {
		return quotes.Page{}, err
	}
	return quotes.Page{
		Items:      items,
		Pagination: quotes.NewPagination(q, total),
		Quota:      s.policy.Quota(ownerID, used),
		Profile:    s.policy.Profile(ownerID),
	}, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	removed, err := s.store.Delete(ctx, ownerID, id)
	if err != nil {
		return err
	}
	s.afterDelete(ctx, []quotes.Artifact{removed})
	return nil
}

// DeleteMany removes every id or none.
func (s *Service) DeleteMany(ctx context.Context, ownerID string, ids []string) (int, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, quotes.ErrInvalidInput
	}
	removed, err := s.store.DeleteMany(ctx, ownerID, ids)
	if err != nil {
		return 0, err
	}
	s.afterDelete(ctx, removed)
	return len(removed), nil
}

// Moderate deletes an artifact regardless of its owner.
func (s *Service) Moderate(ctx context.Context, id string) (quotes.Artifact, error) {
	a, err := s.store.Find(ctx, id)
	if err != nil {
		return quotes.Artifact{}, err
	}
	removed, err := s.store.Delete(ctx, a.OwnerID, id)
	if err != nil {
		return quotes.Artifact{}, err
	}
	s.afterDelete(ctx, []quotes.Artifact{removed})
	return removed, nil
}

// EditCaption changes an artifact's caption and publishes an update.
func (s *Service) EditCaption(ctx context.Context, id, caption string) (quotes.Artifact, error) {
	a, err := s.store.Find(ctx, id)
	if err != nil {
		return quotes.Artifact{}, err
	}
	updated, err := s.store.UpdateCaption(ctx, a.OwnerID, id, caption)
	if err != nil {
		return quotes.Artifact{}, err
	}
	s.publish(ctx, quotes.UpdatedChange(newEventID(), updated))
	return updated, nil
}

// Ingest stores a newly rendered artifact if the owner has quota left.
func (s *Service) Ingest(ctx context.Context, a quotes.Artifact) (quotes.Artifact, error) {
	if strings.TrimSpace(a.OwnerID) == "" {
		return quotes.Artifact{}, fmt.Errorf("%w: userId is required", quotes.ErrInvalidInput)
	}
	used, err := s.store.Count(ctx, a.OwnerID)
	if err != nil {
		return quotes.Artifact{}, err
	}
	quota := s.policy.Quota(a.OwnerID, used)
	if quota.Finite() && *quota.Remaining <= 0 {
		return quotes.Artifact{}, ErrQuotaExceeded
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if err := s.store.Insert(ctx, a); err != nil {
		return quotes.Artifact{}, err
	}
	s.publish(ctx, quotes.InsertedChange(newEventID(), a))
	return a, nil
}

func (s *Service) afterDelete(ctx context.Context, removed []quotes.Artifact) {
	for _, a := range removed {
		if err := s.objects.Remove(ctx, a.StorageKey); err != nil {
			s.logger.WithError(err).WithField("key", a.StorageKey).Warn("rendered image not removed")
		}
		s.publish(ctx, quotes.DeletedChange(newEventID(), a.OwnerID, a.ID))
	}
}

func (s *Service) publish(ctx context.Context, change quotes.Change) {
	change.At = s.now().UTC()
	if err := s.broker.Publish(ctx, change); err != nil {
		// Subscribers that miss this reconcile on their next refetch.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"kind":     string(change.Kind),
			"artifact": change.ArtifactID,
		}).Error("change not published")
		return
	}
	s.metrics.RecordPublished(string(change.Kind))
}

func newEventID() string {
	return "evt_" + strings.ToLower(ulid.Make().String())
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
