package trigger

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches filesystem bursts into a single watch event.
const DefaultDebounce = 500 * time.Millisecond

// Watcher fires watch events when files under the watched paths change.
// Editors and build tools touch files in bursts, so changes are debounced
// before a single event is delivered with the collected paths.
type Watcher struct {
	workflow string
	handler  Handler
	logger   Logger
	debounce time.Duration
	fs       *fsnotify.Watcher
}

// NewWatcher builds a watcher for one workflow's watch trigger.
func NewWatcher(workflowName string, handler Handler, logger Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("trigger: create watcher: %w", err)
	}
	if handler == nil {
		handler = HandlerFunc(func(Event) error { return nil })
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Watcher{
		workflow: workflowName,
		handler:  handler,
		logger:   logger,
		debounce: DefaultDebounce,
		fs:       fs,
	}, nil
}

// SetDebounce overrides the debounce window; values <= 0 keep the default.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Watch registers paths, resolved relative to root when not absolute.
func (w *Watcher) Watch(root string, paths []string) error {
	for _, path := range paths {
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("trigger: watch %s: %w", path, err)
		}
	}
	return nil
}

// Run delivers debounced watch events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		changed = map[string]struct{}{}
	)
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			changed[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("trigger: watch error: %v", err)
		case <-timerCh:
			paths := make([]string, 0, len(changed))
			for path := range changed {
				paths = append(paths, path)
			}
			changed = map[string]struct{}{}
			timer = nil
			timerCh = nil
			w.fire(paths)
		}
	}
}

func (w *Watcher) fire(paths []string) {
	evt := Event{Kind: KindWatch, Workflow: w.workflow, Paths: paths}
	evt.Normalize()
	evt.Stamp(time.Now())
	if err := w.handler.HandleTrigger(evt); err != nil {
		w.logger.Printf("trigger: watch %s: %v", w.workflow, err)
	}
}
