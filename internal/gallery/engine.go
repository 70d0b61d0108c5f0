package gallery

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotes"
)

const defaultDuplicateCacheSize = 1024

// Filter is the narrowing part of the view parameters.
type Filter struct {
	Search       string
	Template     string
	Animated     string
	QuotedUserID string
}

// engine is the gallery state machine. It performs no I/O and starts no
// goroutines; the event loop feeds it one message at a time and carries out
// the requests it returns.
type engine struct {
	owner       string
	params      quotes.PageQuery
	items       []Item
	quota       quotes.Quota
	pagination  quotes.Pagination
	profile     quotes.Profile
	loaded      bool
	loading     bool
	health      Health
	feedEnabled bool

	// fetchSeq numbers page requests; only the latest answer is applied.
	fetchSeq uint64
	// generation changes whenever a fetch replaces items and quota.
	generation uint64
	// revision changes on every local mutation of items or quota.
	revision uint64
	// epoch changes on identity change; older completions are dropped.
	epoch uint64

	pending *PendingTracker
	// confirmed holds leases whose request succeeded while the feed was
	// connected, keyed to the fetch sequence at that moment. Their echo is
	// still due.
	confirmed map[string]uint64
	// owed holds leases a fetch hid without returning them. That page still
	// counted them, so one unit is released when the lease settles.
	owed map[string]struct{}

	selecting bool
	selected  map[string]struct{}
	modalID   string
	err       *Error

	tombstones *lru.Cache[string, struct{}]
	inserted   *lru.Cache[string, struct{}]

	metrics *observability.Metrics
	logger  logrus.FieldLogger
}

type fetchRequest struct {
	seq   uint64
	epoch uint64
	owner string
	query quotes.PageQuery
}

type deleteMode string

const (
	deleteSingle deleteMode = "single"
	deleteBulk   deleteMode = "bulk"
)

// deleteOp is one optimistic delete in flight together with everything
// needed to undo it.
type deleteOp struct {
	mode  deleteMode
	ids   []string
	epoch uint64

	removed       []Item
	released      int
	prevItems     []Item
	prevQuota     quotes.Quota
	prevTotal     int
	prevSelecting bool
	prevSelected  []string
	prevModal     string
	generation    uint64
	revisionAfter uint64
}

func newEngine(owner string, params quotes.PageQuery, cacheSize int, metrics *observability.Metrics, logger logrus.FieldLogger) *engine {
	if cacheSize <= 0 {
		cacheSize = defaultDuplicateCacheSize
	}
	tombstones, _ := lru.New[string, struct{}](cacheSize)
	inserted, _ := lru.New[string, struct{}](cacheSize)
	return &engine{
		owner:      owner,
		params:     params.Normalize(),
		pending:    NewPendingTracker(),
		confirmed:  map[string]uint64{},
		owed:       map[string]struct{}{},
		selected:   map[string]struct{}{},
		tombstones: tombstones,
		inserted:   inserted,
		metrics:    metrics,
		logger:     observability.OrDiscard(logger),
	}
}

func (e *engine) beginFetch() (fetchRequest, bool) {
	if e.owner == "" {
		return fetchRequest{}, false
	}
	e.fetchSeq++
	e.loading = true
	return fetchRequest{seq: e.fetchSeq, epoch: e.epoch, owner: e.owner, query: e.params}, true
}

// applyPage installs an authoritative page. Answers to anything but the
// latest request are discarded. Leases confirmed before this request was
// issued are settled, since the server had already removed them. Items still
// pending or already tombstoned are hidden and their quota released, since
// the server answered before it processed their delete. Pending ids the page
// did not return are owed one unit, released when their lease settles.
func (e *engine) applyPage(seq, epoch uint64, page quotes.Page, err error) bool {
	if epoch != e.epoch || seq != e.fetchSeq {
		return false
	}
	e.loading = false
	if err != nil {
		e.err = &Error{Kind: FetchFailed, Message: err.Error(), Err: err}
		e.logger.WithError(err).WithField("owner", e.owner).Warn("gallery fetch failed")
		return true
	}
	for id, confirmedAt := range e.confirmed {
		if confirmedAt < seq {
			e.settleLease(id)
		}
	}
	items := make([]Item, 0, len(page.Items))
	returned := map[string]struct{}{}
	hidden := 0
	for _, artifact := range page.Items {
		returned[artifact.ID] = struct{}{}
		if e.pending.IsPending(artifact.ID) || e.tombstones.Contains(artifact.ID) {
			hidden++
			continue
		}
		e.inserted.Add(artifact.ID, struct{}{})
		items = append(items, Item{Artifact: artifact})
	}
	e.owed = map[string]struct{}{}
	for _, id := range e.pending.IDs() {
		if _, ok := returned[id]; !ok {
			e.owed[id] = struct{}{}
		}
	}
	e.metrics.SetPendingMutations(e.pending.Len())
	quota := page.Quota.Clone()
	total := page.Pagination.Total
	if hidden > 0 {
		quota = quota.Release(hidden)
		total -= hidden
		if total < 0 {
			total = 0
		}
	}
	e.items = items
	e.quota = quota
	e.pagination = quotes.NewPagination(e.params, total)
	e.profile = page.Profile
	e.loaded = true
	e.generation++
	e.revision++
	if e.err != nil && e.err.Kind == FetchFailed {
		e.err = nil
	}
	e.pruneSelection()
	if e.modalID != "" && e.indexOf(e.modalID) < 0 {
		e.modalID = ""
	}
	return true
}

// setParams installs new view parameters. It reports whether they differ
// from the current ones.
func (e *engine) setParams(params quotes.PageQuery) bool {
	params = params.Normalize()
	if params == e.params {
		return false
	}
	e.params = params
	return true
}

func (e *engine) changeFilter(f Filter) bool {
	next := e.params
	next.Search = f.Search
	next.Template = f.Template
	next.Animated = f.Animated
	next.QuotedUserID = f.QuotedUserID
	next.Page = 1
	return e.setParams(next)
}

func (e *engine) changeSort(key, dir string) bool {
	next := e.params
	next.SortKey = key
	next.SortDir = dir
	next.Page = 1
	return e.setParams(next)
}

func (e *engine) changePage(page int) bool {
	next := e.params
	next.Page = page
	return e.setParams(next)
}

func (e *engine) changePageSize(size int) bool {
	next := e.params
	next.PageSize = size
	next.Page = 1
	return e.setParams(next)
}

// setIdentity discards everything scoped to the previous owner.
func (e *engine) setIdentity(owner string) bool {
	if owner == e.owner {
		return false
	}
	e.owner = owner
	e.epoch++
	e.items = nil
	e.quota = quotes.Quota{}
	e.pagination = quotes.Pagination{}
	e.profile = quotes.Profile{}
	e.loaded = false
	e.loading = false
	e.pending = NewPendingTracker()
	e.confirmed = map[string]uint64{}
	e.owed = map[string]struct{}{}
	e.selecting = false
	e.selected = map[string]struct{}{}
	e.modalID = ""
	e.err = nil
	e.tombstones.Purge()
	e.inserted.Purge()
	e.params.Page = 1
	e.revision++
	e.metrics.SetPendingMutations(0)
	return true
}

// setHealth records the feed state. Leaving Connected settles every
// confirmed lease: their echo may never be delivered.
func (e *engine) setHealth(h Health) {
	e.health = h
	e.metrics.SetFeedConnected(h == Connected)
	if h == Connected || len(e.confirmed) == 0 {
		return
	}
	for id := range e.confirmed {
		e.settleLease(id)
	}
	e.metrics.SetPendingMutations(e.pending.Len())
}

// settleLease ends the lease for a delete the server performed and
// tombstones the id so a late echo is not counted as foreign.
func (e *engine) settleLease(id string) {
	delete(e.confirmed, id)
	if !e.pending.IsPending(id) {
		return
	}
	e.pending.End(id)
	e.tombstones.Add(id, struct{}{})
	if _, ok := e.owed[id]; ok {
		delete(e.owed, id)
		e.quota = e.quota.Release(1)
		e.revision++
	}
}

// dropLease ends the lease for a delete the server refused.
func (e *engine) dropLease(id string) {
	delete(e.confirmed, id)
	delete(e.owed, id)
	e.pending.End(id)
}

func (e *engine) enterSelectionMode() {
	e.selecting = true
}

func (e *engine) exitSelectionMode() {
	e.selecting = false
	e.selected = map[string]struct{}{}
}

// toggleSelect flips id in the selection; selecting an id enters selection
// mode. Ids not on the page are ignored.
func (e *engine) toggleSelect(id string) bool {
	if _, ok := e.selected[id]; ok {
		delete(e.selected, id)
		return true
	}
	if e.indexOf(id) < 0 {
		return false
	}
	e.selecting = true
	e.selected[id] = struct{}{}
	return true
}

func (e *engine) openModal(id string) bool {
	if e.indexOf(id) < 0 {
		return false
	}
	e.modalID = id
	return true
}

func (e *engine) closeModal() {
	e.modalID = ""
}

func (e *engine) clearError() {
	e.err = nil
}

func (e *engine) clearNew(id string) {
	if i := e.indexOf(id); i >= 0 {
		e.items[i].New = false
	}
}

func (e *engine) selectedIDs() []string {
	out := make([]string, 0, len(e.selected))
	for id := range e.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *engine) pruneSelection() {
	for id := range e.selected {
		if e.indexOf(id) < 0 {
			delete(e.selected, id)
		}
	}
}

func (e *engine) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range e.items {
		if e.items[i].ID == id {
			return i
		}
	}
	return -1
}

// removeItem drops id from the page and the pagination total.
func (e *engine) removeItem(id string) (Item, bool) {
	i := e.indexOf(id)
	if i < 0 {
		return Item{}, false
	}
	removed := e.items[i]
	e.items = append(e.items[:i:i], e.items[i+1:]...)
	e.setTotal(e.pagination.Total - 1)
	delete(e.selected, id)
	if e.modalID == id {
		e.modalID = ""
	}
	return removed, true
}

func (e *engine) setTotal(total int) {
	if total < 0 {
		total = 0
	}
	e.pagination = quotes.NewPagination(e.params, total)
}

func (e *engine) view() View {
	items := make([]Item, len(e.items))
	copy(items, e.items)
	var err *Error
	if e.err != nil {
		copied := *e.err
		copied.IDs = append([]string(nil), e.err.IDs...)
		err = &copied
	}
	return View{
		OwnerID:      e.owner,
		Items:        items,
		Quota:        e.quota.Clone(),
		Pagination:   e.pagination,
		Profile:      e.profile,
		Params:       e.params,
		Health:       e.health,
		FeedEnabled:  e.feedEnabled,
		Selecting:    e.selecting,
		Selected:     e.selectedIDs(),
		ModalID:      e.modalID,
		Loading:      e.loading,
		Loaded:       e.loaded,
		PendingCount: e.pending.Len(),
		Error:        err,
	}
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
