package gallery

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/quotebot/quotegallery/internal/quotes"
)

type fakeStream struct {
	owner   string
	changes chan quotes.Change
	fail    chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream(owner string) *fakeStream {
	return &fakeStream{
		owner:   owner,
		changes: make(chan quotes.Change, 16),
		fail:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (s *fakeStream) Next(ctx context.Context) (quotes.Change, error) {
	select {
	case change, ok := <-s.changes:
		if !ok {
			return quotes.Change{}, io.EOF
		}
		return change, nil
	case err := <-s.fail:
		return quotes.Change{}, err
	case <-s.closed:
		return quotes.Change{}, errors.New("stream closed")
	case <-ctx.Done():
		return quotes.Change{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (t *fakeTransport) Subscribe(ctx context.Context, owner string) (quotes.ChangeStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	for _, s := range t.streams {
		if !s.isClosed() {
			return nil, errors.New("subscription already open")
		}
	}
	s := newFakeStream(owner)
	t.streams = append(t.streams, s)
	return s, nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

func (t *fakeTransport) latest() *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return nil
	}
	return t.streams[len(t.streams)-1]
}

type fakeAPI struct {
	mu        sync.Mutex
	owner     string
	items     []quotes.Artifact
	used      int
	max       int
	lists     int
	deleted   []string
	deleteErr error
	listErr   error
	// entered is signalled when a delete request reaches the server; gate,
	// when set, holds the reply until closed.
	entered chan string
	gate    chan struct{}
}

func newFakeAPI(ids []string, used, max int) *fakeAPI {
	api := &fakeAPI{owner: testOwner, used: used, max: max, entered: make(chan string, 16)}
	for _, id := range ids {
		api.items = append(api.items, testArtifact(id))
	}
	return api
}

func (f *fakeAPI) ListQuotes(ctx context.Context, ownerID string, q quotes.PageQuery) (quotes.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return quotes.Page{}, f.listErr
	}
	var items []quotes.Artifact
	if ownerID == f.owner {
		items = append(items, f.items...)
	}
	q = q.Normalize()
	if len(items) > q.PageSize {
		items = items[:q.PageSize]
	}
	return quotes.Page{
		Items:      items,
		Pagination: quotes.NewPagination(q, len(items)),
		Quota:      quotes.LimitedQuota(f.used, f.max),
		Profile:    quotes.Profile{ID: ownerID},
	}, nil
}

func (f *fakeAPI) DeleteQuote(ctx context.Context, ownerID, id string) error {
	return f.remove(ctx, []string{id})
}

func (f *fakeAPI) BulkDeleteQuotes(ctx context.Context, ownerID string, ids []string) error {
	return f.remove(ctx, ids)
}

func (f *fakeAPI) remove(ctx context.Context, ids []string) error {
	for _, id := range ids {
		f.entered <- id
	}
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, id := range ids {
		for i, item := range f.items {
			if item.ID == id {
				f.items = append(f.items[:i], f.items[i+1:]...)
				f.used--
				break
			}
		}
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeAPI) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeAPI) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}
