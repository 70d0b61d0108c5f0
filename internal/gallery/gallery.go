// Package gallery keeps one owner's rendered artifact collection consistent
// with the server quota counter and an at-least-once push feed that echoes
// the owner's own mutations.
//
// All state is owned by the goroutine running Gallery.Run. User operations,
// request completions and feed deliveries become messages on a single inbox
// and are applied one at a time. Readers observe immutable View snapshots.
package gallery

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotes"
)

const (
	DefaultNewFlagWindow  = 4 * time.Second
	DefaultRequestTimeout = 15 * time.Second
)

// API is the request/response side of the artifact service.
type API interface {
	ListQuotes(ctx context.Context, ownerID string, q quotes.PageQuery) (quotes.Page, error)
	DeleteQuote(ctx context.Context, ownerID, id string) error
	BulkDeleteQuotes(ctx context.Context, ownerID string, ids []string) error
}

type Options struct {
	API       API
	Transport Transport
	OwnerID   string
	Query     quotes.PageQuery
	// FeedDisabled starts the gallery without a push subscription.
	FeedDisabled       bool
	NewFlagWindow      time.Duration
	RequestTimeout     time.Duration
	DuplicateCacheSize int
	Logger             logrus.FieldLogger
	Metrics            *observability.Metrics
}

type Gallery struct {
	api            API
	newFlagWindow  time.Duration
	requestTimeout time.Duration
	logger         logrus.FieldLogger
	metrics        *observability.Metrics

	inbox   chan message
	done    chan struct{}
	changes chan struct{}
	running atomic.Bool
	current atomic.Pointer[View]

	// Owned by the Run goroutine.
	eng    *engine
	sub    *Subscriber
	subGen uint64
}

type message interface{}

type (
	deleteOneMsg      struct{ id string }
	deleteManyMsg     struct{ ids []string }
	deleteSelectedMsg struct{}
	filterMsg         struct{ filter Filter }
	sortMsg           struct{ key, dir string }
	pageMsg           struct{ page int }
	pageSizeMsg       struct{ size int }
	enterSelectMsg    struct{}
	toggleSelectMsg   struct{ id string }
	exitSelectMsg     struct{}
	openModalMsg      struct{ id string }
	closeModalMsg     struct{}
	retryMsg          struct{}
	refreshMsg        struct{}
	identityMsg       struct{ owner string }
	feedEnabledMsg    struct{ enabled bool }
	reconnectMsg      struct{}
	clearErrorMsg     struct{}
	syncMsg           struct{ done chan struct{} }

	pageDoneMsg struct {
		req  fetchRequest
		page quotes.Page
		err  error
	}
	deleteDoneMsg struct {
		op  *deleteOp
		err error
	}
	feedChangeMsg struct {
		generation uint64
		change     quotes.Change
	}
	feedHealthMsg struct {
		generation uint64
		health     Health
	}
	clearNewMsg struct {
		epoch uint64
		id    string
	}
)

func New(opts Options) *Gallery {
	logger := observability.OrDiscard(opts.Logger)
	if opts.NewFlagWindow <= 0 {
		opts.NewFlagWindow = DefaultNewFlagWindow
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	query := opts.Query
	if query == (quotes.PageQuery{}) {
		query = quotes.DefaultQuery()
	}
	g := &Gallery{
		api:            opts.API,
		newFlagWindow:  opts.NewFlagWindow,
		requestTimeout: opts.RequestTimeout,
		logger:         logger,
		metrics:        opts.Metrics,
		inbox:          make(chan message, 64),
		done:           make(chan struct{}),
		changes:        make(chan struct{}, 1),
		eng:            newEngine(opts.OwnerID, query, opts.DuplicateCacheSize, opts.Metrics, logger),
	}
	g.eng.feedEnabled = !opts.FeedDisabled
	g.sub = NewSubscriber(SubscriberOptions{
		Transport: opts.Transport,
		OnChange: func(ctx context.Context, generation uint64, change quotes.Change) {
			g.deliver(ctx, feedChangeMsg{generation: generation, change: change})
		},
		OnHealth: func(ctx context.Context, generation uint64, health Health) {
			g.deliver(ctx, feedHealthMsg{generation: generation, health: health})
		},
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	g.publish()
	return g
}

// Run owns the gallery state until ctx ends. It loads the first page and
// opens the feed subscription for the configured owner.
func (g *Gallery) Run(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(g.done)
	defer g.sub.Release()

	g.resubscribe(ctx)
	g.fetch(ctx)
	g.publish()

	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("gallery stopped")
			return nil
		case msg := <-g.inbox:
			g.handle(ctx, msg)
			g.publish()
		}
	}
}

// View returns the latest published snapshot.
func (g *Gallery) View() View {
	return *g.current.Load()
}

// Changes is signalled after every published snapshot. Signals coalesce.
func (g *Gallery) Changes() <-chan struct{} {
	return g.changes
}

func (g *Gallery) DeleteOne(ctx context.Context, id string) error {
	return g.post(ctx, deleteOneMsg{id: id})
}

func (g *Gallery) DeleteMany(ctx context.Context, ids []string) error {
	return g.post(ctx, deleteManyMsg{ids: append([]string(nil), ids...)})
}

func (g *Gallery) DeleteSelected(ctx context.Context) error {
	return g.post(ctx, deleteSelectedMsg{})
}

func (g *Gallery) ChangeFilter(ctx context.Context, f Filter) error {
	return g.post(ctx, filterMsg{filter: f})
}

func (g *Gallery) ChangeSort(ctx context.Context, key, dir string) error {
	return g.post(ctx, sortMsg{key: key, dir: dir})
}

func (g *Gallery) ChangePage(ctx context.Context, page int) error {
	return g.post(ctx, pageMsg{page: page})
}

func (g *Gallery) ChangePageSize(ctx context.Context, size int) error {
	return g.post(ctx, pageSizeMsg{size: size})
}

func (g *Gallery) EnterSelectionMode(ctx context.Context) error {
	return g.post(ctx, enterSelectMsg{})
}

func (g *Gallery) ToggleSelect(ctx context.Context, id string) error {
	return g.post(ctx, toggleSelectMsg{id: id})
}

func (g *Gallery) ExitSelectionMode(ctx context.Context) error {
	return g.post(ctx, exitSelectMsg{})
}

func (g *Gallery) OpenModal(ctx context.Context, id string) error {
	return g.post(ctx, openModalMsg{id: id})
}

func (g *Gallery) CloseModal(ctx context.Context) error {
	return g.post(ctx, closeModalMsg{})
}

// Retry repeats the page fetch after a FetchFailed error.
func (g *Gallery) Retry(ctx context.Context) error {
	return g.post(ctx, retryMsg{})
}

func (g *Gallery) Refresh(ctx context.Context) error {
	return g.post(ctx, refreshMsg{})
}

// SetIdentity switches the gallery to another owner. An empty owner signs
// out: state is cleared and no subscription is held.
func (g *Gallery) SetIdentity(ctx context.Context, owner string) error {
	return g.post(ctx, identityMsg{owner: owner})
}

func (g *Gallery) SetFeedEnabled(ctx context.Context, enabled bool) error {
	return g.post(ctx, feedEnabledMsg{enabled: enabled})
}

// Reconnect replaces the feed subscription and then refetches, so changes
// missed while disconnected are covered by the server answer.
func (g *Gallery) Reconnect(ctx context.Context) error {
	return g.post(ctx, reconnectMsg{})
}

func (g *Gallery) ClearError(ctx context.Context) error {
	return g.post(ctx, clearErrorMsg{})
}

// Sync returns once every message posted before it has been applied.
func (g *Gallery) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := g.post(ctx, syncMsg{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-g.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gallery) post(ctx context.Context, msg message) error {
	select {
	case <-g.done:
		return ErrClosed
	default:
	}
	select {
	case g.inbox <- msg:
		return nil
	case <-g.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver posts an internal completion; it gives up once ctx or the gallery
// is done.
func (g *Gallery) deliver(ctx context.Context, msg message) {
	select {
	case g.inbox <- msg:
	case <-g.done:
	case <-ctx.Done():
	}
}

func (g *Gallery) handle(ctx context.Context, msg message) {
	e := g.eng
	switch m := msg.(type) {
	case deleteOneMsg:
		g.issueDelete(ctx, e.deleteOne(m.id))
	case deleteManyMsg:
		g.issueDelete(ctx, e.deleteMany(m.ids))
	case deleteSelectedMsg:
		g.issueDelete(ctx, e.deleteSelected())
	case filterMsg:
		if e.changeFilter(m.filter) {
			g.fetch(ctx)
		}
	case sortMsg:
		if e.changeSort(m.key, m.dir) {
			g.fetch(ctx)
		}
	case pageMsg:
		if e.changePage(m.page) {
			g.fetch(ctx)
		}
	case pageSizeMsg:
		if e.changePageSize(m.size) {
			g.fetch(ctx)
		}
	case enterSelectMsg:
		e.enterSelectionMode()
	case toggleSelectMsg:
		e.toggleSelect(m.id)
	case exitSelectMsg:
		e.exitSelectionMode()
	case openModalMsg:
		e.openModal(m.id)
	case closeModalMsg:
		e.closeModal()
	case retryMsg, refreshMsg:
		g.fetch(ctx)
	case identityMsg:
		if e.setIdentity(m.owner) {
			g.resubscribe(ctx)
			g.fetch(ctx)
		}
	case feedEnabledMsg:
		if e.feedEnabled != m.enabled {
			e.feedEnabled = m.enabled
			g.resubscribe(ctx)
			if m.enabled {
				g.fetch(ctx)
			}
		}
	case reconnectMsg:
		g.resubscribe(ctx)
		g.fetch(ctx)
	case clearErrorMsg:
		e.clearError()
	case syncMsg:
		close(m.done)
	case pageDoneMsg:
		e.applyPage(m.req.seq, m.req.epoch, m.page, m.err)
	case deleteDoneMsg:
		if e.completeDelete(m.op, m.err) {
			g.fetch(ctx)
		}
	case feedChangeMsg:
		if m.generation != g.subGen {
			g.metrics.RecordNotification(string(m.change.Kind), "stale")
			return
		}
		if _, spliced := e.reconcile(m.change); spliced != "" {
			g.scheduleClearNew(ctx, e.epoch, spliced)
		}
	case feedHealthMsg:
		if m.generation == g.subGen {
			e.setHealth(m.health)
		}
	case clearNewMsg:
		if m.epoch == e.epoch {
			e.clearNew(m.id)
		}
	default:
		g.logger.WithField("message", msg).Warn("unknown gallery message")
	}
}

func (g *Gallery) fetch(ctx context.Context) {
	req, ok := g.eng.beginFetch()
	if !ok || g.api == nil {
		g.eng.loading = false
		return
	}
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
		page, err := g.api.ListQuotes(reqCtx, req.owner, req.query)
		g.deliver(ctx, pageDoneMsg{req: req, page: page, err: err})
	}()
}

func (g *Gallery) issueDelete(ctx context.Context, op *deleteOp) {
	if op == nil {
		return
	}
	owner := g.eng.owner
	if g.api == nil {
		g.eng.completeDelete(op, ErrClosed)
		return
	}
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
		var err error
		if op.mode == deleteSingle {
			err = g.api.DeleteQuote(reqCtx, owner, op.ids[0])
		} else {
			err = g.api.BulkDeleteQuotes(reqCtx, owner, op.ids)
		}
		g.deliver(ctx, deleteDoneMsg{op: op, err: err})
	}()
}

// resubscribe releases the current subscription and, when the feed is
// enabled for a signed-in owner, acquires a new one.
func (g *Gallery) resubscribe(ctx context.Context) {
	g.sub.Release()
	g.subGen = 0
	if !g.eng.feedEnabled || g.eng.owner == "" {
		g.eng.setHealth(Disconnected)
		return
	}
	g.eng.setHealth(Connecting)
	g.subGen = g.sub.Acquire(ctx, g.eng.owner)
}

func (g *Gallery) scheduleClearNew(ctx context.Context, epoch uint64, id string) {
	time.AfterFunc(g.newFlagWindow, func() {
		g.deliver(ctx, clearNewMsg{epoch: epoch, id: id})
	})
}

func (g *Gallery) publish() {
	v := g.eng.view()
	g.current.Store(&v)
	select {
	case g.changes <- struct{}{}:
	default:
	}
}
