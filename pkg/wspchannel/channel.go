package wspchannel

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sammck-go/wspipe/pkg/asyncobj"
	"github.com/sammck-go/wspipe/pkg/logger"
)

// State is the lifecycle state of a Channel
type State int32

const (
	// StateConnecting is the state of a channel that has been created but not yet activated
	StateConnecting State = iota

	// StateOpen channels can be read and/or written
	StateOpen

	// StateClosed channels ended normally: EOF, a close frame, or a local Close
	StateClosed

	// StateFailed channels ended because of a transport error
	StateFailed
)

var stateNames = [...]string{"connecting", "open", "closed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal returns true for Closed and Failed. Terminal states are never left.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// Capability is a bit set of the operations a Channel supports
type Capability uint8

const (
	// CapReadable channels support ReadChunk
	CapReadable Capability = 1 << iota

	// CapWritable channels support WriteChunk
	CapWritable
)

// Readable returns true if the capability set includes CapReadable
func (c Capability) Readable() bool { return c&CapReadable != 0 }

// Writable returns true if the capability set includes CapWritable
func (c Capability) Writable() bool { return c&CapWritable != 0 }

// ChannelStats is a snapshot of a channel's traffic counters
type ChannelStats struct {
	ChunksRead    uint64
	BytesRead     uint64
	ChunksWritten uint64
	BytesWritten  uint64
}

// Channel is a uniform handle over one transport endpoint.
//
// ReadChunk and WriteChunk may each be called by at most one goroutine at a time.
// Close may be called from any goroutine and causes pending calls to return.
type Channel interface {
	fmt.Stringer
	io.Closer
	asyncobj.AsyncShutdowner

	// ID returns an identifier that is unique for the life of the process
	ID() uint64

	// Descriptor returns the descriptor the channel was opened from
	Descriptor() ChannelDescriptor

	// Kind returns the transport kind
	Kind() Kind

	// Capabilities returns the operations the channel supports
	Capabilities() Capability

	// State returns the current lifecycle state
	State() State

	// ReadChunk blocks until a chunk is available. It returns ErrClosed at end of stream
	// and an *IOError or *ProtocolError on failure.
	ReadChunk() (*Chunk, error)

	// WriteChunk sends one chunk. It returns an error matching ErrPayloadTooLarge if the
	// chunk cannot be sent (the channel stays open), ErrClosed if the channel is no
	// longer open, or an *IOError on failure.
	WriteChunk(chunk *Chunk) error

	// Stats returns the channel's traffic counters
	Stats() ChannelStats
}

// BasicChannel is a base common implementation for Channel. It is not intended to be instantiated
// directly, but rather is embedded in more concrete implementations.
type BasicChannel struct {
	asyncobj.Helper
	id            uint64
	strname       string
	desc          ChannelDescriptor
	caps          Capability
	state         atomic.Int32
	chunksRead    atomic.Uint64
	bytesRead     atomic.Uint64
	chunksWritten atomic.Uint64
	bytesWritten  atomic.Uint64
}

// InitBasicChannel initializes the BasicChannel portion of a new channel object. Does not Activate().
func (c *BasicChannel) InitBasicChannel(
	o asyncobj.HandleOnceShutdowner,
	logger logger.Logger,
	desc ChannelDescriptor,
	caps Capability,
) {
	c.id = AllocChannelID()
	c.strname = fmt.Sprintf("[%d]%s", c.id, desc)
	c.desc = desc
	c.caps = caps
	c.state.Store(int32(StateConnecting))
	c.Helper.InitHelper(logger.Fork("%s", c.strname), o)
}

// ActivateOpen activates the channel and moves it to StateOpen
func (c *BasicChannel) ActivateOpen() error {
	err := c.Activate()
	if err == nil {
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
	}
	return err
}

// ID returns a unique identifier of this channel. Identifiers are never reused for the life of the process.
func (c *BasicChannel) ID() uint64 {
	return c.id
}

// Descriptor returns the descriptor the channel was opened from
func (c *BasicChannel) Descriptor() ChannelDescriptor {
	return c.desc
}

// Kind returns the transport kind of the channel
func (c *BasicChannel) Kind() Kind {
	return c.desc.Kind
}

// Capabilities returns the channel's capability set
func (c *BasicChannel) Capabilities() Capability {
	return c.caps
}

// State returns the channel's current state
func (c *BasicChannel) State() State {
	return State(c.state.Load())
}

// SetFinalState moves the channel to a terminal state. The first terminal state wins.
// Returns true if this call made the transition.
func (c *BasicChannel) SetFinalState(s State) bool {
	for {
		old := State(c.state.Load())
		if old.IsTerminal() {
			return false
		}
		if c.state.CompareAndSwap(int32(old), int32(s)) {
			return true
		}
	}
}

// Fail moves the channel to StateFailed, starts shutdown and returns err
func (c *BasicChannel) Fail(err error) error {
	if c.SetFinalState(StateFailed) {
		c.DLogf("failed: %s", err)
	}
	c.StartShutdown(err)
	return err
}

// EndOfStream moves the channel to StateClosed, starts shutdown and returns ErrClosed
func (c *BasicChannel) EndOfStream() error {
	if c.SetFinalState(StateClosed) {
		c.DLogf("end of stream")
	}
	c.StartShutdown(nil)
	return ErrClosed
}

// CheckReadable returns an error if ReadChunk cannot proceed
func (c *BasicChannel) CheckReadable() error {
	if !c.caps.Readable() {
		return ErrNotReadable
	}
	if c.State() != StateOpen {
		return ErrClosed
	}
	return nil
}

// CheckWritable returns an error if WriteChunk cannot proceed
func (c *BasicChannel) CheckWritable() error {
	if !c.caps.Writable() {
		return ErrNotWritable
	}
	if c.State() != StateOpen {
		return ErrClosed
	}
	return nil
}

// CountRead records one chunk of n bytes read
func (c *BasicChannel) CountRead(n int) {
	c.chunksRead.Add(1)
	c.bytesRead.Add(uint64(n))
}

// CountWritten records one chunk of n bytes written
func (c *BasicChannel) CountWritten(n int) {
	c.chunksWritten.Add(1)
	c.bytesWritten.Add(uint64(n))
}

// Stats returns the channel's traffic counters
func (c *BasicChannel) Stats() ChannelStats {
	return ChannelStats{
		ChunksRead:    c.chunksRead.Load(),
		BytesRead:     c.bytesRead.Load(),
		ChunksWritten: c.chunksWritten.Load(),
		BytesWritten:  c.bytesWritten.Load(),
	}
}

// String returns a short descriptive name for the channel, suitable for logging
func (c *BasicChannel) String() string {
	return c.strname
}

var nextChannelID atomic.Uint64

// AllocChannelID allocates a unique channel ID number, for logging purposes
func AllocChannelID() uint64 {
	return nextChannelID.Add(1)
}
