package testutil

import (
	"fmt"
	"sync"
	"time"

	"ebakup-go/internal/ebakup"
)

// StubClock is a settable ebakup.Clock. Snapshot names have minute
// granularity, so tests that take several snapshots move it with
// NextSnapshot or Advance.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock at 2024-01-15 10:30:00 UTC, the start of a
// snapshot minute.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NextSnapshot moves the clock to the start of the following minute, the
// first time a new snapshot name is free, and returns that time.
func (c *StubClock) NextSnapshot() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Truncate(time.Minute).Add(time.Minute)
	return c.now
}

var _ ebakup.Clock = (*StubClock)(nil)

// StubIDGenerator hands out uuid-shaped ids from a counter, so temp file
// names are predictable and as long as real ones.
type StubIDGenerator struct {
	mu sync.Mutex
	n  uint64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("00000000-0000-4000-8000-%012x", g.n)
}

var _ ebakup.IDGenerator = (*StubIDGenerator)(nil)
