package reload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tripstore/pkg/domain"
)

// Logger is the structured logging surface the watcher reports to.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// DefaultDebounce coalesces the burst of events an atomic file replace emits.
const DefaultDebounce = 100 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Kind is the widget kind signalled. Default domain.WidgetKindTrips.
	Kind     string
	Debounce time.Duration
	Logger   Logger
}

// Watcher signals a ReloadNotifier when any of its files is created, written,
// renamed over or removed. Parent directories are watched so atomic
// rename-into-place writes are seen.
type Watcher struct {
	files    map[string]struct{}
	notifier domain.ReloadNotifier
	kind     string
	debounce time.Duration
	logger   Logger
	watcher  *fsnotify.Watcher

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher watches files and reports to notifier.
func NewWatcher(files []string, notifier domain.ReloadNotifier, opts WatcherOptions) (*Watcher, error) {
	if notifier == nil {
		return nil, errors.New("reload: notifier required")
	}
	if len(files) == 0 {
		return nil, errors.New("reload: no files to watch")
	}
	if opts.Kind == "" {
		opts.Kind = domain.WidgetKindTrips
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: create watcher: %w", err)
	}
	w := &Watcher{
		files:    make(map[string]struct{}, len(files)),
		notifier: notifier,
		kind:     opts.Kind,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	dirs := map[string]struct{}{}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("reload: resolve %s: %w", f, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("reload: watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Start processes events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("watched file changed", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			}
		case <-timerC:
			timer, timerC = nil, nil
			w.notifier.ReloadTimelines(w.kind)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}
