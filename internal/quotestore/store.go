// Package quotestore is galleryd's persistence: artifact stores, rendered
// image removal, the per-owner quota policy and the service tying them to
// the change broker.
package quotestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/quotebot/quotegallery/internal/quotes"
)

var (
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrNotImplemented = errors.New("not implemented")
)

type Store interface {
	// List returns one page of the owner's artifacts and the number of
	// artifacts matching the query's filters.
	List(ctx context.Context, ownerID string, q quotes.PageQuery) ([]quotes.Artifact, int, error)
	// Count returns how many artifacts the owner stores in total.
	Count(ctx context.Context, ownerID string) (int, error)
	// Find looks an artifact up by id alone.
	Find(ctx context.Context, id string) (quotes.Artifact, error)
	Insert(ctx context.Context, a quotes.Artifact) error
	UpdateCaption(ctx context.Context, ownerID, id, caption string) (quotes.Artifact, error)
	Delete(ctx context.Context, ownerID, id string) (quotes.Artifact, error)
	// DeleteMany removes all of ids or, if any is missing, none of them.
	DeleteMany(ctx context.Context, ownerID string, ids []string) ([]quotes.Artifact, error)
	Close() error
}

type StoreFactory func(dsn string) (Store, error)

var storeFactories = struct {
	mu        sync.RWMutex
	factories map[string]StoreFactory
}{factories: map[string]StoreFactory{}}

func RegisterStoreFactory(scheme string, factory StoreFactory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil {
		return
	}
	storeFactories.mu.Lock()
	defer storeFactories.mu.Unlock()
	storeFactories.factories[scheme] = factory
}

func lookupStoreFactory(scheme string) (StoreFactory, bool) {
	storeFactories.mu.RLock()
	defer storeFactories.mu.RUnlock()
	factory, ok := storeFactories.factories[scheme]
	return factory, ok
}

// BuildStoreFromDSN returns the store a DSN names; empty means memory.
func BuildStoreFromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]quotes.Artifact
	owner map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  map[string]quotes.Artifact{},
		owner: map[string]map[string]struct{}{},
	}
}

func (s *MemoryStore) List(ctx context.Context, ownerID string, q quotes.PageQuery) ([]quotes.Artifact, int, error) {
	q = q.Normalize()
	s.mu.RLock()
	matched := make([]quotes.Artifact, 0, len(s.owner[ownerID]))
	for id := range s.owner[ownerID] {
		a := s.byID[id]
		if matches(a, q) {
			matched = append(matched, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j], q) })
	total := len(matched)
	start := q.Offset()
	if start >= total {
		return []quotes.Artifact{}, total, nil
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	return append([]quotes.Artifact(nil), matched[start:end]...), total, nil
}

func matches(a quotes.Artifact, q quotes.PageQuery) bool {
	if q.Search != "" && !strings.Contains(strings.ToLower(a.Caption), strings.ToLower(q.Search)) {
		return false
	}
	if q.Template != "" && a.Template != q.Template {
		return false
	}
	switch q.Animated {
	case quotes.AnimatedOnly:
		if !a.Animated {
			return false
		}
	case quotes.AnimatedStatic:
		if a.Animated {
			return false
		}
	}
	if q.QuotedUserID != "" && a.QuotedUserID != q.QuotedUserID {
		return false
	}
	return true
}

// less orders by the query's sort key with id as the tie breaker, in the
// query's direction.
func less(a, b quotes.Artifact, q quotes.PageQuery) bool {
	var cmp int
	switch q.SortKey {
	case quotes.SortTemplate:
		cmp = strings.Compare(a.Template, b.Template)
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}
	if cmp == 0 {
		cmp = strings.Compare(a.ID, b.ID)
	}
	if q.SortDir == quotes.SortAsc {
		return cmp < 0
	}
	return cmp > 0
}

func (s *MemoryStore) Count(ctx context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owner[ownerID]), nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (quotes.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return quotes.Artifact{}, quotes.ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) Insert(ctx context.Context, a quotes.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[a.ID]; exists {
		return fmt.Errorf("%w: duplicate id %s", quotes.ErrInvalidInput, a.ID)
	}
	s.byID[a.ID] = a
	if s.owner[a.OwnerID] == nil {
		s.owner[a.OwnerID] = map[string]struct{}{}
	}
	s.owner[a.OwnerID][a.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) UpdateCaption(ctx context.Context, ownerID, id, caption string) (quotes.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || a.OwnerID != ownerID {
		return quotes.Artifact{}, quotes.ErrNotFound
	}
	a.Caption = caption
	s.byID[id] = a
	return a, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ownerID, id string) (quotes.Artifact, error) {
	removed, err := s.DeleteMany(ctx, ownerID, []string{id})
	if err != nil {
		return quotes.Artifact{}, err
	}
	return removed[0], nil
}

func (s *MemoryStore) DeleteMany(ctx context.Context, ownerID string, ids []string) ([]quotes.Artifact, error) {
	if len(ids) == 0 {
		return nil, quotes.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := s.owner[ownerID]
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := owned[id]; !ok {
			return nil, fmt.Errorf("%w: %s", quotes.ErrNotFound, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", quotes.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	removed := make([]quotes.Artifact, 0, len(ids))
	for _, id := range ids {
		removed = append(removed, s.byID[id])
		delete(s.byID, id)
		delete(owned, id)
	}
	if len(owned) == 0 {
		delete(s.owner, ownerID)
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
