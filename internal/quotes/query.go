package quotes

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	SortCreatedAt = "created_at"
	SortTemplate  = "template"

	SortDesc = "desc"
	SortAsc  = "asc"

	AnimatedAny    = ""
	AnimatedOnly   = "animated"
	AnimatedStatic = "static"

	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageQuery selects one page of an owner's artifacts.
type PageQuery struct {
	Page         int
	PageSize     int
	SortKey      string
	SortDir      string
	Search       string
	Template     string
	Animated     string
	QuotedUserID string
}

// DefaultQuery is page one, newest first, unfiltered.
func DefaultQuery() PageQuery {
	return PageQuery{
		Page:     1,
		PageSize: DefaultPageSize,
		SortKey:  SortCreatedAt,
		SortDir:  SortDesc,
	}
}

// Normalize fills defaults and clamps out-of-range values.
func (q PageQuery) Normalize() PageQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	switch strings.ToLower(strings.TrimSpace(q.SortKey)) {
	case SortTemplate:
		q.SortKey = SortTemplate
	default:
		q.SortKey = SortCreatedAt
	}
	switch strings.ToLower(strings.TrimSpace(q.SortDir)) {
	case SortAsc:
		q.SortDir = SortAsc
	default:
		q.SortDir = SortDesc
	}
	switch strings.ToLower(strings.TrimSpace(q.Animated)) {
	case AnimatedOnly:
		q.Animated = AnimatedOnly
	case AnimatedStatic:
		q.Animated = AnimatedStatic
	default:
		q.Animated = AnimatedAny
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Template = strings.TrimSpace(q.Template)
	q.QuotedUserID = strings.TrimSpace(q.QuotedUserID)
	return q
}

func (q PageQuery) HasFilter() bool {
	n := q.Normalize()
	return n.Search != "" || n.Template != "" || n.Animated != AnimatedAny || n.QuotedUserID != ""
}

func (q PageQuery) DefaultSort() bool {
	n := q.Normalize()
	return n.SortKey == SortCreatedAt && n.SortDir == SortDesc
}

// Offset is the zero-based index of the first item on the page.
func (q PageQuery) Offset() int {
	n := q.Normalize()
	return (n.Page - 1) * n.PageSize
}

func (q PageQuery) Values() url.Values {
	n := q.Normalize()
	v := url.Values{}
	v.Set("page", strconv.Itoa(n.Page))
	v.Set("pageSize", strconv.Itoa(n.PageSize))
	v.Set("sort", n.SortKey)
	v.Set("order", n.SortDir)
	if n.Search != "" {
		v.Set("search", n.Search)
	}
	if n.Template != "" {
		v.Set("template", n.Template)
	}
	if n.Animated != AnimatedAny {
		v.Set("animated", n.Animated)
	}
	if n.QuotedUserID != "" {
		v.Set("quotedUser", n.QuotedUserID)
	}
	return v
}

// ParseQuery reads a PageQuery from URL query values; unknown or malformed
// values fall back to defaults.
func ParseQuery(v url.Values) PageQuery {
	q := DefaultQuery()
	if page, err := strconv.Atoi(v.Get("page")); err == nil {
		q.Page = page
	}
	if size, err := strconv.Atoi(v.Get("pageSize")); err == nil {
		q.PageSize = size
	}
	if sortKey := v.Get("sort"); sortKey != "" {
		q.SortKey = sortKey
	}
	if order := v.Get("order"); order != "" {
		q.SortDir = order
	}
	q.Search = v.Get("search")
	q.Template = v.Get("template")
	q.Animated = v.Get("animated")
	q.QuotedUserID = v.Get("quotedUser")
	return q.Normalize()
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func NewPagination(q PageQuery, total int) Pagination {
	n := q.Normalize()
	pages := 0
	if total > 0 {
		pages = (total + n.PageSize - 1) / n.PageSize
	}
	return Pagination{Page: n.Page, PageSize: n.PageSize, Total: total, TotalPages: pages}
}

// Page is the answer to an artifact page request.
type Page struct {
	Items      []Artifact `json:"items"`
	Pagination Pagination `json:"pagination"`
	Quota      Quota      `json:"quota"`
	Profile    Profile    `json:"profile"`
}
