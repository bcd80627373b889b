// Package listwatch rebuilds the filtering engine each time one of the rule
// list files changes.
package listwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/filterlist"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/fsnotify/fsnotify"
)

// List is a rule list file.
type List struct {
	// Path is the path to the file.  It must not be empty.
	Path string

	// ID is the identifier of the list.  IDs must be unique.
	ID int

	// Allowlist makes the rules of the list exceptions.
	Allowlist bool
}

// Config is the configuration structure for a [*Watcher].
type Config struct {
	// Logger is used for logging the operation of the watcher.  It must not be
	// nil.
	Logger *slog.Logger

	// Holder receives the rebuilt engines.  It must not be nil.
	Holder *reqfilter.Holder

	// Lists are the watched files.
	Lists []*List
}

// Watcher watches the rule list files and reloads the engine of the holder
// when they are written, created, or renamed.
type Watcher struct {
	logger  *slog.Logger
	holder  *reqfilter.Holder
	watcher *fsnotify.Watcher
	done    chan struct{}
	lists   []*List

	// files are the absolute paths of the watched files.
	files *container.MapSet[string]
}

// New returns a new properly initialized *Watcher.  c must not be nil.  The
// directories containing the lists are watched, since editors usually replace
// the files instead of writing into them.
func New(c *Config) (w *Watcher, err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w = &Watcher{
		logger:  c.Logger,
		holder:  c.Holder,
		watcher: fw,
		done:    make(chan struct{}),
		lists:   c.Lists,
		files:   container.NewMapSet[string](),
	}

	dirs := container.NewMapSet[string]()
	for i, l := range c.Lists {
		var abs string
		abs, err = filepath.Abs(l.Path)
		if err != nil {
			return nil, errors.WithDeferred(fmt.Errorf("list at index %d: %w", i, err), fw.Close())
		}

		w.files.Add(abs)
		dirs.Add(filepath.Dir(abs))
	}

	for _, dir := range dirs.Values() {
		err = fw.Add(dir)
		if err != nil {
			return nil, errors.WithDeferred(fmt.Errorf("adding %q: %w", dir, err), fw.Close())
		}
	}

	return w, nil
}

// type check
var _ service.Interface = (*Watcher)(nil)

// Start implements the [service.Interface] interface for *Watcher.  It
// doesn't load the lists, call [Watcher.Reload] for that.
func (w *Watcher) Start(ctx context.Context) (err error) {
	go w.handleErrors(ctx)
	go w.handleEvents(ctx)

	return nil
}

// Shutdown implements the [service.Interface] interface for *Watcher.
func (w *Watcher) Shutdown(ctx context.Context) (err error) {
	err = w.watcher.Close()
	if err != nil {
		return fmt.Errorf("closing watcher: %w", err)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload opens all lists and rebuilds the engine of them.  The current engine
// is kept on error.
func (w *Watcher) Reload(ctx context.Context) (err error) {
	return Load(ctx, w.logger, w.holder, w.lists)
}

// Load opens the list files and reloads the engine of h with them.  The
// current engine is kept on error.  The files are closed before returning.
func Load(ctx context.Context, l *slog.Logger, h *reqfilter.Holder, lists []*List) (err error) {
	rls := make([]filterlist.RuleList, 0, len(lists))
	defer func() { reqfilter.CloseLists(ctx, l, rls) }()

	for _, list := range lists {
		var fl *filterlist.FileRuleList
		fl, err = filterlist.NewFileRuleList(list.ID, list.Path, &rules.ParsingOptions{
			TreatAsExceptionDefault: list.Allowlist,
		})
		if err != nil {
			return fmt.Errorf("list %d: %w", list.ID, err)
		}

		rls = append(rls, fl)
	}

	return h.Reload(ctx, rls...)
}

// handleEvents reloads the engine once a tracked file changes.  It is
// intended to be used as a goroutine.
func (w *Watcher) handleEvents(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	defer close(w.done)

	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Rename

	ch := w.watcher.Events
	for e := range ch {
		if e.Op&ops == 0 || !w.files.Has(e.Name) {
			continue
		}

		skipDuplicates(ch)

		w.logger.DebugContext(ctx, "list changed", "path", e.Name, "op", e.Op)

		err := w.Reload(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "reloading lists", slogutil.KeyError, err)
		}
	}
}

// skipDuplicates drains the given channel of events, assuming that some events
// might occur multiple times.
func skipDuplicates(ch <-chan fsnotify.Event) {
	for {
		select {
		case <-ch:
			// Go on.
		default:
			return
		}
	}
}

// handleErrors logs the errors of the watcher.  It is intended to be used as a
// goroutine.
func (w *Watcher) handleErrors(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	for err := range w.watcher.Errors {
		w.logger.ErrorContext(ctx, "watching lists", slogutil.KeyError, err)
	}
}
