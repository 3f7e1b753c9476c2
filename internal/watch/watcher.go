// Package watch mirrors the root directory into the index and detects
// out-of-band filesystem changes, grounded on phase0/internal/watcher's
// scan-and-diff loop but split into an OS-level kernel-event mode
// (fsnotify) and a polling fallback, per spec §4.4.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/canopyfs/canopy/internal/logging"
	"github.com/canopyfs/canopy/internal/metrics"
	"github.com/canopyfs/canopy/internal/treeindex"
	"github.com/canopyfs/canopy/internal/updatebus"
	"github.com/canopyfs/canopy/internal/vpath"
)

// SuppressionWindow is how long a lookAway() call mutes watcher-driven
// rescans, per spec §4.4: long enough to cover the disk I/O of an
// engine-driven mutation so the watcher doesn't re-observe its own write.
const SuppressionWindow = 3000 * time.Millisecond

// DebounceWindow collapses a burst of filesystem events into one rescan.
const DebounceWindow = 300 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// PollInterval, if non-zero, selects the polling fallback instead of
	// fsnotify.
	PollInterval time.Duration
	// IgnorePatterns are gitignore-style globs excluded from both the
	// initial scan and all rescans.
	IgnorePatterns []string
}

// Watcher keeps store in sync with the real filesystem under mapper's
// root and notifies bus of changes.
type Watcher struct {
	mapper *vpath.Mapper
	store  *treeindex.Store
	bus    *updatebus.Bus
	ignore *ignore.GitIgnore
	poll   time.Duration

	mu            sync.Mutex
	suppressUntil time.Time
	debounce      *time.Timer

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// New constructs a Watcher. It does not start watching; call Start.
func New(mapper *vpath.Mapper, store *treeindex.Store, bus *updatebus.Bus, opts Options) *Watcher {
	var matcher *ignore.GitIgnore
	if len(opts.IgnorePatterns) > 0 {
		matcher = ignore.CompileIgnoreLines(opts.IgnorePatterns...)
	}
	return &Watcher{
		mapper: mapper,
		store:  store,
		bus:    bus,
		ignore: matcher,
		poll:   opts.PollInterval,
		done:   make(chan struct{}),
	}
}

// Start runs the synchronous initial scan, then begins watching for
// out-of-band changes in the background (spec §4.4: "initial population
// uses a synchronous variant; subsequent rescans are asynchronous").
func (w *Watcher) Start(ctx context.Context) error {
	w.runScan()

	if w.poll > 0 {
		go w.pollLoop(ctx)
		return nil
	}
	return w.startFsnotify(ctx)
}

// Stop releases watcher resources.
func (w *Watcher) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	if w.fsw != nil {
		w.fsw.Close()
	}
}

// LookAway arms the suppression window: rescans triggered by events
// arriving before the deadline are dropped. A mutation engine calls this
// immediately before performing disk I/O for an operation it is about to
// patch into the index itself, so the watcher doesn't double-apply it.
// Calling it again simply re-arms the deadline.
func (w *Watcher) LookAway() {
	w.mu.Lock()
	w.suppressUntil = time.Now().Add(SuppressionWindow)
	w.mu.Unlock()
}

func (w *Watcher) suppressed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Now().Before(w.suppressUntil)
}

func (w *Watcher) startFsnotify(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addAllDirs(); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				w.onFsEvent(event)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logging.Warn("watch: fsnotify error", logging.Err(err))
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (w *Watcher) addAllDirs() error {
	for p := range w.dirsSnapshot() {
		if err := w.fsw.Add(w.mapper.AddFilesPath(p)); err != nil {
			logging.Warn("watch: add dir failed", logging.String("path", p), logging.Err(err))
		}
	}
	return nil
}

func (w *Watcher) dirsSnapshot() map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range w.store.Paths() {
		out[p] = struct{}{}
	}
	return out
}

func (w *Watcher) onFsEvent(event fsnotify.Event) {
	if w.suppressed() {
		return
	}
	if event.Op&fsnotify.Create == fsnotify.Create {
		// New directories need their own fsnotify watch so descendants
		// are observed too; the rescan below will pick up their content.
		w.fsw.Add(event.Name)
	}
	w.scheduleRescan()
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !w.suppressed() {
				w.scheduleRescan()
			}
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// scheduleRescan trailing-debounces a burst of change signals into one
// rescan, the same shape as the update bus's own debounce.
func (w *Watcher) scheduleRescan() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce == nil {
		w.debounce = time.AfterFunc(DebounceWindow, w.runScan)
	} else {
		w.debounce.Reset(DebounceWindow)
	}
}

// runScan performs a full rescan of the root, patches the index, and
// dirties every directory whose local content changed. The watcher's
// rescan emits "updateall" after its own drain (spec §4.4, §4.6).
func (w *Watcher) runScan() {
	start := time.Now()
	result := walk(w.mapper, w.ignoreMatcherOrNil())
	dirty := applyScan(w.store, "/", result)
	metrics.RecordRescan(time.Since(start))

	if w.fsw != nil {
		for p := range result.dirs {
			w.fsw.Add(w.mapper.AddFilesPath(p))
		}
	}

	for _, p := range dirty {
		w.bus.Update(p)
	}
	w.bus.UpdateAll()
}

func (w *Watcher) ignoreMatcherOrNil() ignoreMatcher {
	if w.ignore == nil {
		return nil
	}
	return w.ignore
}
