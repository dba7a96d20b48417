// Package compress wraps a net.Conn with snappy framing, adapted from
// this module's teacher's generic/comp.go.
package compress

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Stream wraps a net.Conn with a snappy reader/writer pair so callers can
// toggle compression without changing the rest of the transport stack. It
// also keeps running tallies of the plaintext bytes written and the
// decompressed bytes read; the compressed wire byte counts are not kept
// here and must come from the underlying conn.
type Stream struct {
	conn net.Conn
	w    *snappy.Writer
	r    *snappy.Reader

	plaintextOut uint64
	wireIn       uint64
}

// New wraps conn with snappy compression on both directions.
func New(conn net.Conn) *Stream {
	return &Stream{conn: conn, w: snappy.NewBufferedWriter(conn), r: snappy.NewReader(conn)}
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	atomic.AddUint64(&s.wireIn, uint64(n))
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	if _, err := s.w.Write(p); err != nil {
		return 0, errors.WithStack(err)
	}
	if err := s.w.Flush(); err != nil {
		return 0, errors.WithStack(err)
	}
	atomic.AddUint64(&s.plaintextOut, uint64(len(p)))
	return len(p), nil
}

// PlaintextWritten reports the total bytes handed to Write so far, before
// snappy framing.
func (s *Stream) PlaintextWritten() uint64 { return atomic.LoadUint64(&s.plaintextOut) }

// WireRead reports the total decompressed bytes delivered to callers of
// Read so far. Comparing it against the underlying conn's own byte count
// (unavailable here, but visible to e.g. a kcp.UDPSession's stats) is how
// an operator judges whether -nocomp would help on a given link.
func (s *Stream) WireRead() uint64 { return atomic.LoadUint64(&s.wireIn) }

func (s *Stream) Close() error                       { return s.conn.Close() }
func (s *Stream) LocalAddr() net.Addr                { return s.conn.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr               { return s.conn.RemoteAddr() }
func (s *Stream) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *Stream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
