package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/quotebot/quotegallery/internal/gallery"
	"github.com/quotebot/quotegallery/internal/quotes"
)

func renderView(out io.Writer, v gallery.View) {
	name := v.Profile.DisplayName
	if name == "" {
		name = v.OwnerID
	}
	if name == "" {
		fmt.Fprintln(out, "no identity; use: identity <owner>")
		return
	}
	feed := v.Health.String()
	if !v.FeedEnabled {
		feed = "off"
	}
	fmt.Fprintf(out, "%s | %s | feed %s | page %d/%d (%d total)\n",
		name, formatQuota(v.Quota), feed, v.Pagination.Page, v.Pagination.TotalPages, v.Pagination.Total)
	if filters := describeFilters(v.Params); filters != "" {
		fmt.Fprintf(out, "filters: %s\n", filters)
	}
	if v.Loading {
		fmt.Fprintln(out, "loading...")
	}
	if v.Error != nil {
		hint := "dismiss to hide"
		if v.Error.Retryable() {
			hint = "retry to try again"
		}
		fmt.Fprintf(out, "error: %s (%s)\n", v.Error.Error(), hint)
	}
	if v.Selecting {
		fmt.Fprintf(out, "selecting: %d chosen\n", len(v.Selected))
	}
	if v.Loaded && len(v.Items) == 0 {
		fmt.Fprintln(out, "  (no quotes)")
	}
	for _, item := range v.Items {
		mark := "  "
		switch {
		case v.IsSelected(item.ID):
			mark = "* "
		case v.Selecting:
			mark = "- "
		}
		line := fmt.Sprintf("%s%s  %s", mark, item.ID, item.Template)
		if item.Animated {
			line += " (animated)"
		}
		if item.Caption != "" {
			line += "  " + strings.TrimSpace(item.Caption)
		}
		if item.New {
			line += "  NEW"
		}
		fmt.Fprintln(out, line)
	}
	if v.ModalID != "" {
		for _, item := range v.Items {
			if item.ID == v.ModalID {
				fmt.Fprintf(out, "open: %s created %s image %s\n", item.ID, item.CreatedAt.Format("2006-01-02 15:04"), item.ImageURL)
			}
		}
	}
}

func formatQuota(q quotes.Quota) string {
	if q.IsUnlimited {
		return fmt.Sprintf("%d used (unlimited)", q.Used)
	}
	if q.Max == nil || q.Remaining == nil {
		return fmt.Sprintf("%d used", q.Used)
	}
	return fmt.Sprintf("%d/%d used, %d left", q.Used, *q.Max, *q.Remaining)
}

func describeFilters(q quotes.PageQuery) string {
	var parts []string
	if q.Search != "" {
		parts = append(parts, fmt.Sprintf("search=%q", q.Search))
	}
	if q.Template != "" {
		parts = append(parts, "template="+q.Template)
	}
	if q.Animated != quotes.AnimatedAny {
		parts = append(parts, q.Animated)
	}
	if q.QuotedUserID != "" {
		parts = append(parts, "quoted="+q.QuotedUserID)
	}
	if !q.DefaultSort() {
		parts = append(parts, "sort="+q.SortKey+" "+q.SortDir)
	}
	return strings.Join(parts, " ")
}
