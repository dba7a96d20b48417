// Package stats periodically CSV-logs pipe-level counters, adapted from
// this module's teacher's std/snmp.go (which CSV-logs kcp.DefaultSnmp the
// same way: a ticker, a rotated filename via time.Now().Format, and a
// header written once on an empty file).
package stats

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Source is anything stats can sample; *pipe.Pipe satisfies it, and a
// *relay.Session is sampled through the two pipes its Pipes method returns.
type Source interface {
	Waiting() int
	Capacity() int
}

var header = []string{"Unix", "Waiting", "Capacity"}

// Logger periodically samples sources and appends one CSV row per source
// per tick to path. It is a no-op if path or interval is zero, matching
// SnmpLogger's own early-return guard.
func Logger(path string, interval int, name string, sources func() []Source) {
	if path == "" || interval == 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			return
		}

		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Name"}, header...)); err != nil {
				log.Println(err)
			}
		}

		now := fmt.Sprint(time.Now().Unix())
		for i, src := range sources() {
			row := []string{fmt.Sprintf("%s-%d", name, i), now,
				fmt.Sprint(src.Waiting()), fmt.Sprint(src.Capacity())}
			if err := w.Write(row); err != nil {
				log.Println(err)
			}
		}
		w.Flush()
		f.Close()
	}
}
