package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/quotebot/quotegallery/internal/gallery"
	"github.com/quotebot/quotegallery/internal/quotes"
)

type fakeController struct {
	view  gallery.View
	calls []string
}

func (f *fakeController) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakeController) View() gallery.View { return f.view }
func (f *fakeController) DeleteOne(ctx context.Context, id string) error {
	return f.record("delete %s", id)
}
func (f *fakeController) DeleteMany(ctx context.Context, ids []string) error {
	return f.record("bulk %s", strings.Join(ids, ","))
}
func (f *fakeController) DeleteSelected(ctx context.Context) error {
	return f.record("delete-selected")
}
func (f *fakeController) ChangeFilter(ctx context.Context, flt gallery.Filter) error {
	return f.record("filter %q %q %q %q", flt.Search, flt.Template, flt.Animated, flt.QuotedUserID)
}
func (f *fakeController) ChangeSort(ctx context.Context, key, dir string) error {
	return f.record("sort %s %s", key, dir)
}
func (f *fakeController) ChangePage(ctx context.Context, page int) error {
	return f.record("page %d", page)
}
func (f *fakeController) ChangePageSize(ctx context.Context, size int) error {
	return f.record("pagesize %d", size)
}
func (f *fakeController) EnterSelectionMode(ctx context.Context) error { return f.record("select") }
func (f *fakeController) ToggleSelect(ctx context.Context, id string) error {
	return f.record("toggle %s", id)
}
func (f *fakeController) ExitSelectionMode(ctx context.Context) error { return f.record("unselect") }
func (f *fakeController) OpenModal(ctx context.Context, id string) error {
	return f.record("open %s", id)
}
func (f *fakeController) CloseModal(ctx context.Context) error { return f.record("close") }
func (f *fakeController) Retry(ctx context.Context) error      { return f.record("retry") }
func (f *fakeController) Refresh(ctx context.Context) error    { return f.record("refresh") }
func (f *fakeController) SetIdentity(ctx context.Context, owner string) error {
	return f.record("identity %s", owner)
}
func (f *fakeController) SetFeedEnabled(ctx context.Context, enabled bool) error {
	return f.record("feed %t", enabled)
}
func (f *fakeController) Reconnect(ctx context.Context) error  { return f.record("reconnect") }
func (f *fakeController) ClearError(ctx context.Context) error { return f.record("dismiss") }

func TestParseCommandDispatch(t *testing.T) {
	current := quotes.DefaultQuery()
	current.Template = "neon"
	current.Search = "old"

	cases := []struct {
		line string
		want string
	}{
		{"delete q1", "delete q1"},
		{"  rm   q2 ", "delete q2"},
		{"bulk a b c", "bulk a,b,c"},
		{"select", "select"},
		{"toggle a", "toggle a"},
		{"unselect", "unselect"},
		{"delete-selected", "delete-selected"},
		{"page 3", "page 3"},
		{"pagesize 50", "pagesize 50"},
		{"search the quick  fox", `filter "the quick  fox" "neon" "" ""`},
		{"template", `filter "old" "" "" ""`},
		{"static", `filter "old" "neon" "static" ""`},
		{"quoted u9", `filter "old" "neon" "" "u9"`},
		{"clear", `filter "" "" "" ""`},
		{"sort TEMPLATE asc", "sort template asc"},
		{"open a", "open a"},
		{"close", "close"},
		{"retry", "retry"},
		{"refresh", "refresh"},
		{"reconnect", "reconnect"},
		{"feed off", "feed false"},
		{"identity owner-2", "identity owner-2"},
		{"dismiss", "dismiss"},
	}
	for _, tc := range cases {
		act, err := parseCommand(tc.line)
		if err != nil {
			t.Fatalf("%q: parse failed: %v", tc.line, err)
		}
		ctrl := &fakeController{view: gallery.View{Params: current}}
		if err := act(context.Background(), ctrl, &bytes.Buffer{}); err != nil {
			t.Fatalf("%q: run failed: %v", tc.line, err)
		}
		if len(ctrl.calls) != 1 || ctrl.calls[0] != tc.want {
			t.Fatalf("%q: expected %q, got %v", tc.line, tc.want, ctrl.calls)
		}
	}
}

func TestParseCommandRejectsBadInput(t *testing.T) {
	for _, line := range []string{
		"delete",
		"delete a b",
		"bulk",
		"page zero",
		"page 0",
		"sort color asc",
		"sort template sideways",
		"feed maybe",
		"select now",
	} {
		if _, err := parseCommand(line); err == nil {
			t.Fatalf("%q: expected parse error", line)
		}
	}
	if _, err := parseCommand("launch"); !errors.Is(err, errUnknownCommand) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	act, err := parseCommand("   ")
	if err != nil || act != nil {
		t.Fatalf("expected blank line to be ignored, got %v %v", act, err)
	}
}

func TestShowRendersView(t *testing.T) {
	limit, remaining := 50, 47
	view := gallery.View{
		OwnerID:     "owner-1",
		Profile:     quotes.Profile{ID: "owner-1", DisplayName: "Quote Fan"},
		Quota:       quotes.Quota{Used: 3, Max: &limit, Remaining: &remaining},
		Pagination:  quotes.Pagination{Page: 1, PageSize: 20, Total: 3, TotalPages: 1},
		Params:      quotes.DefaultQuery(),
		Health:      gallery.Connected,
		FeedEnabled: true,
		Loaded:      true,
		Selecting:   true,
		Selected:    []string{"b"},
		Items: []gallery.Item{
			{Artifact: quotes.Artifact{ID: "a", Template: "neon", Caption: "hello"}, New: true},
			{Artifact: quotes.Artifact{ID: "b", Template: "classic", Animated: true}},
		},
		Error: &gallery.Error{Kind: gallery.FetchFailed, Message: "unavailable"},
	}
	act, err := parseCommand("show")
	if err != nil {
		t.Fatalf("parse show: %v", err)
	}
	var out bytes.Buffer
	if err := act(context.Background(), &fakeController{view: view}, &out); err != nil {
		t.Fatalf("show: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Quote Fan | 3/50 used, 47 left | feed connected | page 1/1 (3 total)",
		"error: fetch_failed: unavailable (retry to try again)",
		"selecting: 1 chosen",
		"- a  neon  hello  NEW",
		"* b  classic (animated)",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestFormatQuotaUnlimited(t *testing.T) {
	if got := formatQuota(quotes.UnlimitedQuota(7)); got != "7 used (unlimited)" {
		t.Fatalf("unexpected unlimited quota text %q", got)
	}
}
