package stats

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeSource struct {
	waiting, capacity int
}

func (f fakeSource) Waiting() int  { return f.waiting }
func (f fakeSource) Capacity() int { return f.capacity }

func TestLoggerIsNoopWithoutPath(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Logger("", 60, "test", func() []Source { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("Logger with empty path should return immediately")
	}
}

func TestLoggerWritesCSVRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.csv")

	sources := []Source{fakeSource{waiting: 2, capacity: 65536}}
	go Logger(path, 1, "client", func() []Source { return sources })

	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("stats file never appeared")
		}
		f, err := os.Open(path)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil || len(rows) < 2 {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if rows[0][0] != "Name" {
			t.Fatalf("missing header row: %v", rows[0])
		}
		if rows[1][2] != "2" || rows[1][3] != "65536" {
			t.Fatalf("unexpected data row: %v", rows[1])
		}
		return
	}
}
