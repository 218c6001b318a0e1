package vocab

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Publisher owns the current Snapshot. Readers load it without locking;
// writers are serialized and replace it atomically once the next snapshot
// is completely built.
type Publisher struct {
	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]

	subMu       sync.RWMutex
	subscribers []func(*Snapshot)

	logger *slog.Logger
}

// NewPublisher creates a publisher serving initial. A nil initial snapshot
// is replaced by an empty one.
func NewPublisher(initial *Snapshot, logger *slog.Logger) *Publisher {
	if initial == nil {
		initial = Empty()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{logger: logger}
	p.current.Store(initial)
	return p
}

// Current returns the snapshot readers should use.
func (p *Publisher) Current() *Snapshot {
	return p.current.Load()
}

// Subscribe registers fn to be called with every newly published snapshot.
// Callbacks run on the writer's goroutine, in publication order.
func (p *Publisher) Subscribe(fn func(*Snapshot)) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Publish replaces the current snapshot with next.
func (p *Publisher) Publish(next *Snapshot) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.swap(next)
}

// Update runs fn under the writer lock with the current snapshot. If fn
// returns a non-nil snapshot it is published; if fn fails the current
// snapshot stays in place.
func (p *Publisher) Update(fn func(cur *Snapshot) (*Snapshot, error)) (*Snapshot, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	cur := p.current.Load()
	next, err := fn(cur)
	if err != nil {
		return cur, err
	}
	if next == nil || next == cur {
		return cur, nil
	}
	p.swap(next)
	return next, nil
}

func (p *Publisher) swap(next *Snapshot) {
	prev := p.current.Swap(next)
	p.logger.Debug("Published vocabulary snapshot",
		"generation", next.Generation(),
		"previous", prev.Generation(),
		"trees", next.TreeCount(),
		"terms", next.TermCount())

	p.subMu.RLock()
	subs := append([]func(*Snapshot){}, p.subscribers...)
	p.subMu.RUnlock()
	for _, fn := range subs {
		fn(next)
	}
}
