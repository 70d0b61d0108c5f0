package gallery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quotebot/quotegallery/internal/quotes"
)

var (
	ErrClosed         = errors.New("gallery closed")
	ErrAlreadyRunning = errors.New("gallery already running")
)

// Health is the feed connection indicator. It never affects correctness.
type Health int

const (
	Disconnected Health = iota
	Connecting
	Connected
)

func (h Health) String() string {
	switch h {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type ErrorKind string

const (
	FetchFailed      ErrorKind = "fetch_failed"
	DeleteFailed     ErrorKind = "delete_failed"
	BulkDeleteFailed ErrorKind = "bulk_delete_failed"
)

// Error is a failure surfaced as view state.
type Error struct {
	Kind    ErrorKind
	Message string
	IDs     []string
	Err     error
}

func (e *Error) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, strings.Join(e.IDs, ","), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the manual "try again" action applies.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == FetchFailed
}

// Item is one rendered artifact. New marks an item spliced in from the feed
// that is still inside its highlight window.
type Item struct {
	quotes.Artifact
	New bool
}

// View is a read-only snapshot of the gallery, safe to hold on to.
type View struct {
	OwnerID      string
	Items        []Item
	Quota        quotes.Quota
	Pagination   quotes.Pagination
	Profile      quotes.Profile
	Params       quotes.PageQuery
	Health       Health
	FeedEnabled  bool
	Selecting    bool
	Selected     []string
	ModalID      string
	Loading      bool
	Loaded       bool
	PendingCount int
	Error        *Error
}

func (v View) Contains(id string) bool {
	for _, item := range v.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func (v View) IsSelected(id string) bool {
	for _, selected := range v.Selected {
		if selected == id {
			return true
		}
	}
	return false
}

// splicesFeedInserts reports whether a feed insert may be rendered under
// params: first page, default sort, no filter.
func splicesFeedInserts(params quotes.PageQuery) bool {
	n := params.Normalize()
	return n.Page == 1 && n.DefaultSort() && !n.HasFilter()
}
