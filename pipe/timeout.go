package pipe

import "time"

// Timeout controls how long Read/Write may block waiting for data or
// space, per spec.md §5/§7.
type Timeout time.Duration

const (
	// NoWait means "fail immediately rather than block" (spec.md §4.1
	// step 1).
	NoWait Timeout = 0

	// Forever means block with no time limit.
	Forever Timeout = -1
)
