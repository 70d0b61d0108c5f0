package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/quotebot/quotegallery/internal/gallery"
	"github.com/quotebot/quotegallery/internal/quotes"
)

var errUnknownCommand = errors.New("unknown command")

// controller is the part of *gallery.Gallery the command loop drives.
type controller interface {
	View() gallery.View
	DeleteOne(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
	DeleteSelected(ctx context.Context) error
	ChangeFilter(ctx context.Context, f gallery.Filter) error
	ChangeSort(ctx context.Context, key, dir string) error
	ChangePage(ctx context.Context, page int) error
	ChangePageSize(ctx context.Context, size int) error
	EnterSelectionMode(ctx context.Context) error
	ToggleSelect(ctx context.Context, id string) error
	ExitSelectionMode(ctx context.Context) error
	OpenModal(ctx context.Context, id string) error
	CloseModal(ctx context.Context) error
	Retry(ctx context.Context) error
	Refresh(ctx context.Context) error
	SetIdentity(ctx context.Context, owner string) error
	SetFeedEnabled(ctx context.Context, enabled bool) error
	Reconnect(ctx context.Context) error
	ClearError(ctx context.Context) error
}

type action func(ctx context.Context, c controller, out io.Writer) error

const helpText = `commands:
  delete <id>              delete one quote
  bulk <id> [id...]        delete several quotes at once
  select | unselect        enter or leave selection mode
  toggle <id>              toggle a quote in the selection
  delete-selected          delete every selected quote
  page <n> | pagesize <n>  move to a page or change its size
  search <text>            filter by caption
  template <name>          filter by template
  animated | static | all  filter by animation
  quoted <user>            filter by quoted user
  sort <created_at|template> <asc|desc>
  clear                    drop every filter
  open <id> | close        show or hide one quote
  retry | refresh          refetch after a failure, or now
  reconnect                reopen the live feed
  feed on|off              enable or disable the live feed
  identity <owner>         switch the acting user
  dismiss                  clear the current error
  show                     print the gallery
  help                     this text`

// parseCommand turns one input line into an action. A blank line yields a
// nil action.
func parseCommand(line string) (action, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	noArgs := func(fn func(ctx context.Context, c controller) error) (action, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("%s takes no arguments", name)
		}
		return func(ctx context.Context, c controller, _ io.Writer) error { return fn(ctx, c) }, nil
	}
	oneArg := func(fn func(ctx context.Context, c controller, arg string) error) (action, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: %s <value>", name)
		}
		return func(ctx context.Context, c controller, _ io.Writer) error { return fn(ctx, c, args[0]) }, nil
	}
	filter := func(edit func(*gallery.Filter)) (action, error) {
		return func(ctx context.Context, c controller, _ io.Writer) error {
			f := currentFilter(c.View())
			edit(&f)
			return c.ChangeFilter(ctx, f)
		}, nil
	}

	switch name {
	case "delete", "rm":
		return oneArg(func(ctx context.Context, c controller, id string) error { return c.DeleteOne(ctx, id) })
	case "bulk":
		if len(args) == 0 {
			return nil, fmt.Errorf("usage: bulk <id> [id...]")
		}
		ids := append([]string(nil), args...)
		return func(ctx context.Context, c controller, _ io.Writer) error { return c.DeleteMany(ctx, ids) }, nil
	case "select":
		return noArgs(func(ctx context.Context, c controller) error { return c.EnterSelectionMode(ctx) })
	case "unselect":
		return noArgs(func(ctx context.Context, c controller) error { return c.ExitSelectionMode(ctx) })
	case "toggle":
		return oneArg(func(ctx context.Context, c controller, id string) error { return c.ToggleSelect(ctx, id) })
	case "delete-selected":
		return noArgs(func(ctx context.Context, c controller) error { return c.DeleteSelected(ctx) })
	case "page", "pagesize":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: %s <n>", name)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%s must be a positive number", name)
		}
		if name == "page" {
			return func(ctx context.Context, c controller, _ io.Writer) error { return c.ChangePage(ctx, n) }, nil
		}
		return func(ctx context.Context, c controller, _ io.Writer) error { return c.ChangePageSize(ctx, n) }, nil
	case "search":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		return filter(func(f *gallery.Filter) { f.Search = text })
	case "template":
		if len(args) > 1 {
			return nil, fmt.Errorf("usage: template [name]")
		}
		tmpl := strings.Join(args, "")
		return filter(func(f *gallery.Filter) { f.Template = tmpl })
	case "animated", "static", "all":
		if len(args) != 0 {
			return nil, fmt.Errorf("%s takes no arguments", name)
		}
		mode := map[string]string{"animated": quotes.AnimatedOnly, "static": quotes.AnimatedStatic, "all": quotes.AnimatedAny}[name]
		return filter(func(f *gallery.Filter) { f.Animated = mode })
	case "quoted":
		if len(args) > 1 {
			return nil, fmt.Errorf("usage: quoted [user]")
		}
		user := strings.Join(args, "")
		return filter(func(f *gallery.Filter) { f.QuotedUserID = user })
	case "clear":
		return noArgs(func(ctx context.Context, c controller) error { return c.ChangeFilter(ctx, gallery.Filter{}) })
	case "sort":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: sort <created_at|template> <asc|desc>")
		}
		key, dir := strings.ToLower(args[0]), strings.ToLower(args[1])
		if key != quotes.SortCreatedAt && key != quotes.SortTemplate {
			return nil, fmt.Errorf("unknown sort key %q", args[0])
		}
		if dir != quotes.SortAsc && dir != quotes.SortDesc {
			return nil, fmt.Errorf("unknown sort order %q", args[1])
		}
		return func(ctx context.Context, c controller, _ io.Writer) error { return c.ChangeSort(ctx, key, dir) }, nil
	case "open":
		return oneArg(func(ctx context.Context, c controller, id string) error { return c.OpenModal(ctx, id) })
	case "close":
		return noArgs(func(ctx context.Context, c controller) error { return c.CloseModal(ctx) })
	case "retry":
		return noArgs(func(ctx context.Context, c controller) error { return c.Retry(ctx) })
	case "refresh":
		return noArgs(func(ctx context.Context, c controller) error { return c.Refresh(ctx) })
	case "reconnect":
		return noArgs(func(ctx context.Context, c controller) error { return c.Reconnect(ctx) })
	case "feed":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return nil, fmt.Errorf("usage: feed on|off")
		}
		enabled := args[0] == "on"
		return func(ctx context.Context, c controller, _ io.Writer) error { return c.SetFeedEnabled(ctx, enabled) }, nil
	case "identity":
		return oneArg(func(ctx context.Context, c controller, owner string) error { return c.SetIdentity(ctx, owner) })
	case "dismiss":
		return noArgs(func(ctx context.Context, c controller) error { return c.ClearError(ctx) })
	case "show", "ls":
		return func(_ context.Context, c controller, out io.Writer) error {
			renderView(out, c.View())
			return nil
		}, nil
	case "help", "?":
		return func(_ context.Context, _ controller, out io.Writer) error {
			_, err := fmt.Fprintln(out, helpText)
			return err
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s (try help)", errUnknownCommand, name)
	}
}

func currentFilter(v gallery.View) gallery.Filter {
	return gallery.Filter{
		Search:       v.Params.Search,
		Template:     v.Params.Template,
		Animated:     v.Params.Animated,
		QuotedUserID: v.Params.QuotedUserID,
	}
}
