package wsprelay

import (
	"fmt"
	"sync/atomic"

	"github.com/jpillora/sizestr"

	"github.com/sammck-go/wspipe/pkg/wspchannel"
)

// SinkCounts keeps track of both currently open and total sink counts for a router
type SinkCounts struct {
	total atomic.Int32
	open  atomic.Int32
}

// Add adds one to both the total and the open count
func (c *SinkCounts) Add() {
	c.total.Add(1)
	c.open.Add(1)
}

// Close subtracts one from the open count and returns the number still open
func (c *SinkCounts) Close() int32 {
	return c.open.Add(-1)
}

// Open returns the number of sinks still open
func (c *SinkCounts) Open() int32 {
	return c.open.Load()
}

func (c *SinkCounts) String() string {
	return fmt.Sprintf("[%d/%d]", c.open.Load(), c.total.Load())
}

// SinkStats is a snapshot of one sink's delivery statistics
type SinkStats struct {
	// Index is the sink's position among the router's sinks, starting at 1
	Index int

	// Name is the sink channel's log name
	Name string

	Kind   wspchannel.Kind
	Policy Policy
	State  wspchannel.State

	ChunksDelivered uint64
	BytesDelivered  uint64

	// ChunksDropped counts chunks discarded by the drop-oldest policy
	ChunksDropped uint64

	// ChunksRejected counts chunks the sink refused as too large
	ChunksRejected uint64

	// Err is the error that removed the sink from delivery, if any
	Err error
}

func (s SinkStats) String() string {
	str := fmt.Sprintf("sink %d %s: %s, delivered %d chunks (%s), dropped %d, rejected %d",
		s.Index, s.Name, s.State, s.ChunksDelivered, sizestr.ToString(int64(s.BytesDelivered)),
		s.ChunksDropped, s.ChunksRejected)
	if s.Err != nil {
		str += fmt.Sprintf(", error: %s", s.Err)
	}
	return str
}

// Result summarizes a finished relay
type Result struct {
	// Reason is why the relay ended
	Reason TerminationReason

	// Err is the error behind a SourceFailed or AllSinksFailed termination
	Err error

	ChunksRead uint64
	BytesRead  uint64

	// Sinks holds per-sink statistics in command-line order
	Sinks []SinkStats
}

func (r *Result) String() string {
	return fmt.Sprintf("%s after reading %d chunks (%s)", r.Reason, r.ChunksRead, sizestr.ToString(int64(r.BytesRead)))
}
