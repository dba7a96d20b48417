// Package pipe implements a bounded, blocking, single-producer/
// single-consumer-friendly (but safe for many concurrent producers and
// consumers) in-memory byte pipe: a ring buffer coupled to two wait
// queues, a lifecycle flag pair, and a reset operation that cancels
// in-flight waiters without closing the pipe.
//
// It plays the same role inside this module that karalabe/bufioprop's
// unexported pipe type plays for that package's PipeReader/PipeWriter:
// the shared state machine a pair of higher-level handles operate on.
// Unlike that reference, Pipe is a single handle (not split into
// reader/writer halves) since callers here need both Reset and
// independent per-call timeouts.
package pipe

import (
	"sync"
	"time"

	"github.com/xtaci/kpipe/internal/ring"
	"github.com/xtaci/kpipe/internal/waitqueue"
)

// Pipe is the bounded blocking byte pipe. The zero value is not usable;
// construct one with New.
type Pipe struct {
	mu  sync.Mutex
	buf *ring.Buffer

	dataQ  waitqueue.Queue // threads waiting for "not empty"
	spaceQ waitqueue.Queue // threads waiting for "not full"

	open    bool
	resetOn bool
	waiting int
}

// New binds buf (the caller-owned ring buffer storage) to a freshly
// initialized, open pipe. Re-initializing a live pipe is a caller
// error and not guarded against, matching spec.md §4.3.
func New(buf *ring.Buffer) *Pipe {
	return &Pipe{buf: buf, open: true}
}

// wait suspends the calling goroutine on q until woken, canceled,
// closed, or timed out, re-evaluating stillBlocked on every wake
// (including spurious ones) before deciding what to report. The lock
// is held by the caller on entry and is held again on every return
// from this function; callers are responsible for releasing it.
func (p *Pipe) wait(q *waitqueue.Queue, stillBlocked func() bool, timeout Timeout) error {
	if timeout == NoWait || p.resetOn {
		return ErrTryAgain
	}
	if !p.open {
		// A closed pipe never wakes a freshly joined waiter (Close only
		// wakes whoever is already queued), so suspending here would
		// hang forever; report the closure immediately instead.
		return ErrBrokenPipe
	}

	p.waiting++
	wake, token := q.Join()
	p.mu.Unlock()

	if timeout == Forever {
		<-wake
	} else {
		t := time.NewTimer(time.Duration(timeout))
		select {
		case <-wake:
			t.Stop()
		case <-t.C:
		}
	}

	p.mu.Lock()
	p.waiting--
	q.Leave(token)

	switch {
	case !p.open:
		return ErrBrokenPipe
	case p.resetOn:
		if p.waiting == 0 {
			p.resetOn = false
		}
		return ErrCanceled
	case !stillBlocked():
		return nil
	default:
		return ErrTryAgain
	}
}

// Write copies up to len(b) bytes into the pipe, blocking according to
// timeout while the buffer is full. It returns the number of bytes
// actually transferred (which may be less than len(b) on a partial
// success) and never re-loops on a caller's behalf: a partial count is
// returned immediately rather than continuing to block for the rest.
func (p *Pipe) Write(b []byte, timeout Timeout) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	for {
		if p.buf.Space() == 0 {
			if err := p.wait(&p.spaceQ, func() bool { return p.buf.Space() == 0 }, timeout); err != nil {
				p.mu.Unlock()
				return 0, err
			}
		}

		if !p.open {
			p.mu.Unlock()
			return 0, ErrBrokenPipe
		}

		n := p.buf.Put(b)
		if n == 0 {
			// A racing writer refilled the buffer between our wake and
			// our Put; go back and wait again.
			continue
		}

		p.dataQ.WakeOne()
		p.mu.Unlock()
		return n, nil
	}
}

// Read copies up to len(b) bytes out of the pipe, blocking according to
// timeout while the buffer is empty and the pipe is still open. If the
// pipe is closed while a reader is blocked, the reader still attempts
// to drain any bytes deposited before the close and only then reports
// ErrBrokenPipe — draining takes priority over surfacing EOF.
func (p *Pipe) Read(b []byte, timeout Timeout) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	for {
		if p.buf.Occupancy() == 0 {
			if p.open {
				err := p.wait(&p.dataQ, func() bool { return p.buf.Occupancy() == 0 }, timeout)
				switch err {
				case nil:
					// predicate cleared, re-check occupancy below
				case ErrBrokenPipe:
					// fall through to the drain-then-EOF check below
				default:
					p.mu.Unlock()
					return 0, err
				}
			}

			if p.buf.Occupancy() == 0 {
				if !p.open {
					p.mu.Unlock()
					return 0, ErrBrokenPipe
				}
				continue
			}
		}

		n := p.buf.Get(b)
		if n > 0 {
			p.spaceQ.WakeOne()
		}
		p.mu.Unlock()
		return n, nil
	}
}

// Reset discards all buffered bytes and cancels every goroutine
// currently blocked in Read or Write with ErrCanceled, without closing
// the pipe. It is a no-op on a closed pipe. The reset condition clears
// itself once the last canceled waiter has observed it; Reset itself
// never clears it (spec.md §4.6, §9). With no goroutine blocked, Reset
// only discards the buffered bytes and the condition is never raised.
func (p *Pipe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return
	}

	p.buf.Reset()
	if p.waiting == 0 {
		return
	}
	p.resetOn = true
	p.dataQ.WakeAll()
	p.spaceQ.WakeAll()
}

// Close permanently disables the pipe. It is idempotent: a second call
// returns ErrAlready. Blocked readers and writers are woken; readers
// observe ErrBrokenPipe only after draining any remaining bytes,
// writers observe it immediately.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return ErrAlready
	}

	p.open = false
	p.resetOn = false
	p.dataQ.WakeAll()
	p.spaceQ.WakeAll()
	return nil
}

// Waiting reports the number of goroutines currently blocked in Read or
// Write. Used by internal/stats; not part of the core contract.
func (p *Pipe) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Capacity reports the pipe's fixed buffer capacity C.
func (p *Pipe) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Capacity()
}
