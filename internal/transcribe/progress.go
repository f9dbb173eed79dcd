package transcribe

import "sync"

// progress clamps emitted values so a caller never observes the reported
// progress going backwards, whatever order the phases advance in.
type progress struct {
	mu   sync.Mutex
	last float64
	fn   ProgressFunc
}

func newProgress(fn ProgressFunc) *progress {
	return &progress{fn: fn}
}

func (p *progress) emit(value float64, note string) {
	if p.fn == nil {
		return
	}

	p.mu.Lock()
	if value < p.last {
		value = p.last
	}
	if value > 1.0 {
		value = 1.0
	}
	p.last = value
	p.mu.Unlock()

	p.fn(value, note)
}
