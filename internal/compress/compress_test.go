package compress

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestStreamRoundTrip(t *testing.T) {
	left, right := net.Pipe()
	w := New(left)
	r := New(right)
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})

	payload := bytes.Repeat([]byte("compressed payload"), 64)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, len(payload))
		if _, err := io.ReadFull(r, buf); err != nil {
			readErr <- fmt.Errorf("read compressed data: %w", err)
			return
		}
		if !bytes.Equal(buf, payload) {
			readErr <- fmt.Errorf("payload mismatch")
			return
		}
		readErr <- nil
	}()

	if n, err := w.Write(append([]byte(nil), payload...)); err != nil {
		t.Fatalf("Write error: %v", err)
	} else if n != len(payload) {
		t.Fatalf("write returned %d, want %d", n, len(payload))
	}

	if err := <-readErr; err != nil {
		t.Fatalf("reader error: %v", err)
	}

	if got := w.PlaintextWritten(); got != uint64(len(payload)) {
		t.Fatalf("PlaintextWritten() = %d, want %d", got, len(payload))
	}
	if got := r.WireRead(); got != uint64(len(payload)) {
		t.Fatalf("WireRead() = %d, want %d", got, len(payload))
	}
}

func TestStreamAddrsDelegateToConn(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()
	s := New(left)
	defer s.Close()

	if s.LocalAddr() != left.LocalAddr() {
		t.Fatalf("LocalAddr mismatch")
	}
	if s.RemoteAddr() != left.RemoteAddr() {
		t.Fatalf("RemoteAddr mismatch")
	}
}
