// Package relay bridges two io.ReadWriteClosers bidirectionally through a
// pair of bounded blocking pipes, one per direction, instead of the bare
// io.Copy splice this module's teacher uses in std/copy.go's Pipe() and
// server/main.go's handleClient. Routing bytes through pipe.Pipe gives a
// slow peer explicit, boundedly-buffered backpressure against the fast
// one, and lets an operator cancel an in-flight transfer with Reset
// without tearing down either connection.
package relay

import (
	"io"
	"sync"

	"github.com/xtaci/kpipe/internal/ring"
	"github.com/xtaci/kpipe/pipe"
)

const copyBufSize = 4096

// Session owns the pair of pipes bridging a<->b.
type Session struct {
	a, b   io.ReadWriteCloser
	ab, ba *pipe.Pipe
}

// New constructs a Session with one bufSize-capacity pipe per direction.
// Each pipe's storage is allocated here and handed to ring.NewFromSlice,
// rather than left to ring.New, since the relay (not the ring package) is
// the natural owner of that buffer's lifetime.
func New(a, b io.ReadWriteCloser, bufSize int) *Session {
	return &Session{
		a:  a,
		b:  b,
		ab: pipe.New(ring.NewFromSlice(make([]byte, bufSize))),
		ba: pipe.New(ring.NewFromSlice(make([]byte, bufSize))),
	}
}

// Run bridges a<->b until both directions have drained and closed. It
// returns the first non-EOF read/write error observed on each direction
// (nil on a clean close), mirroring std.Pipe's (errA, errB error) result.
func (s *Session) Run() (errA, errB error) {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() { defer wg.Done(); errA = pumpIn(s.a, s.ab) }()
	go func() { defer wg.Done(); pumpOut(s.ab, s.b) }()
	go func() { defer wg.Done(); errB = pumpIn(s.b, s.ba) }()
	go func() { defer wg.Done(); pumpOut(s.ba, s.a) }()

	wg.Wait()
	return
}

// Reset cancels any goroutine currently blocked transferring bytes through
// either direction's pipe, without closing the underlying connections —
// the bridge-level use of pipe.Pipe.Reset.
func (s *Session) Reset() {
	s.ab.Reset()
	s.ba.Reset()
}

// Close tears down both directions' pipes, unblocking any pump goroutine
// and causing Run to return.
func (s *Session) Close() {
	s.ab.Close()
	s.ba.Close()
	s.a.Close()
	s.b.Close()
}

// Pipes exposes the underlying per-direction pipes for instrumentation
// (internal/stats reads Waiting()/Capacity() off of them).
func (s *Session) Pipes() (ab, ba *pipe.Pipe) { return s.ab, s.ba }

// pumpIn copies src into p until src errors, closing p on the way out so
// pumpOut can drain-then-stop on the other side.
func pumpIn(src io.Reader, p *pipe.Pipe) error {
	buf := make([]byte, copyBufSize)
	for {
		n, rerr := src.Read(buf)
		for off := 0; off < n; {
			w, werr := p.Write(buf[off:n], pipe.Forever)
			if werr != nil {
				p.Close()
				return werr
			}
			off += w
		}
		if rerr != nil {
			p.Close()
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

// pumpOut drains p into dst until p reports ErrBrokenPipe (closed and
// empty), closing p so the producer side unblocks too if dst failed.
func pumpOut(p *pipe.Pipe, dst io.Writer) {
	buf := make([]byte, copyBufSize)
	for {
		n, err := p.Read(buf, pipe.Forever)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				p.Close()
				return
			}
		}
		if err == pipe.ErrBrokenPipe {
			return
		}
	}
}
