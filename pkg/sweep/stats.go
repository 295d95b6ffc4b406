package sweep

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats aggregates one sweep round. Counters are atomic because the
// per-user jobs update them concurrently.
type Stats struct {
	Started time.Time
	Ended   time.Time

	TrashedRemoved  atomic.Int64
	VersionsExpired atomic.Int64
	UploadsRemoved  atomic.Int64
	InodesRemoved   atomic.Int64
	ObjectsRemoved  atomic.Int64
}

// NewStats starts the clock on a round.
func NewStats() *Stats {
	return &Stats{Started: time.Now()}
}

// Finish stops the clock.
func (s *Stats) Finish() {
	s.Ended = time.Now()
}

// Duration is the round's elapsed time.
func (s *Stats) Duration() time.Duration {
	if s.Ended.IsZero() {
		return time.Since(s.Started)
	}
	return s.Ended.Sub(s.Started)
}

// Summary renders the round for logs.
func (s *Stats) Summary() string {
	return fmt.Sprintf("trash=%d versions=%d uploads=%d inodes=%d objects=%d duration=%s",
		s.TrashedRemoved.Load(), s.VersionsExpired.Load(), s.UploadsRemoved.Load(),
		s.InodesRemoved.Load(), s.ObjectsRemoved.Load(), s.Duration())
}
