// Package updatebus holds the PendingUpdateSet (spec §3, §4.6) and emits
// debounced, minimal-cover "update(dir)" notifications plus "updateall"
// to subscriber session views, following the teacher's event.Broadcaster
// shape (fruitsalade/internal/events/broadcaster.go): a subscriber set
// guarded by a mutex. Subscribers are called synchronously, outside the
// mutex.
package updatebus

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/canopyfs/canopy/internal/metrics"
	"github.com/canopyfs/canopy/internal/vpath"
)

// Subscriber is the external contract of spec §4.8: session views that
// want directory-change notifications.
type Subscriber interface {
	OnUpdate(dirPath string)
	OnUpdateAll()
}

// DefaultWindow is the debounce window spec §4.6 recommends (the source
// uses a zero-argument debounce that collapses synchronously; 100ms is
// the suggested concrete window for an implementation with a real timer).
const DefaultWindow = 100 * time.Millisecond

// Bus debounces dirty-directory marks and fans them out to subscribers.
type Bus struct {
	window    time.Duration
	recompute func()

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	subs    map[Subscriber]struct{}
}

// New creates a Bus. recompute is called synchronously, in-memory, every
// time a directory is marked dirty (spec §4.6: "update(p) recomputes
// sizes (cheap; all in-memory)"); pass the index's RecomputeSizes.
func New(window time.Duration, recompute func()) *Bus {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Bus{
		window:    window,
		recompute: recompute,
		pending:   make(map[string]struct{}),
		subs:      make(map[Subscriber]struct{}),
	}
}

// Subscribe registers sub for notifications and returns a function that
// removes it.
func (b *Bus) Subscribe(sub Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}
}

// Update marks p dirty and (re)arms the trailing debounce timer. A burst
// of calls within the window collapses into a single drain.
func (b *Bus) Update(p string) {
	if b.recompute != nil {
		b.recompute()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[p] = struct{}{}
	metrics.SetPendingUpdateSetSize(len(b.pending))
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.fire)
	} else {
		b.timer.Reset(b.window)
	}
}

func (b *Bus) fire() {
	paths := b.takePending()
	b.notify(paths)
}

func (b *Bus) takePending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	paths := minimalCover(b.pending)
	b.pending = make(map[string]struct{})
	metrics.SetPendingUpdateSetSize(0)
	return paths
}

func (b *Bus) notify(paths []string) {
	if len(paths) == 0 {
		return
	}
	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, p := range paths {
		for _, s := range subs {
			s.OnUpdate(p)
		}
	}
}

// UpdateAll drains any currently-pending per-directory marks immediately
// (without waiting for the debounce timer) and then emits "updateall" to
// every subscriber. The watcher's full rescan calls this after its own
// drain (spec §4.4, §4.6).
func (b *Bus) UpdateAll() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	paths := b.takePending()
	b.notify(paths)

	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.OnUpdateAll()
	}
}

// minimalCover implements spec §4.6's drain algorithm: sort by depth
// ascending, drop any path that is a strict descendant of another path
// already in the set, deduplicate.
func minimalCover(pending map[string]struct{}) []string {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := depth(paths[i]), depth(paths[j])
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})

	var kept []string
	for _, p := range paths {
		covered := false
		for _, k := range kept {
			if isDescendant(p, k) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, p)
		}
	}
	return kept
}

func isDescendant(p, ancestor string) bool {
	if p == ancestor {
		return true
	}
	prefix := ancestor
	if prefix != "/" {
		prefix += "/"
	}
	return strings.HasPrefix(p, prefix)
}

func depth(p string) int {
	if p == "/" {
		return 0
	}
	return vpath.CountOccurences(p, "/")
}
