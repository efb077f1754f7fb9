package transfer

import "sync"

// progressGuard forwards store progress callbacks. It drops values that do
// not advance the count and ignores everything after close, so a store that
// calls back late or out of order cannot break the event stream.
type progressGuard struct {
	mu     sync.Mutex
	last   int64
	sent   bool
	closed bool
	emit   func(bytes int64)
}

func newProgressGuard(emit func(bytes int64)) *progressGuard {
	return &progressGuard{emit: emit}
}

func (g *progressGuard) report(bytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || (g.sent && bytes <= g.last) || bytes < 0 {
		return
	}
	g.last = bytes
	g.sent = true
	g.emit(bytes)
}

func (g *progressGuard) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *progressGuard) bytes() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
