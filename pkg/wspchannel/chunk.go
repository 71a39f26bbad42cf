package wspchannel

import "fmt"

// Boundary describes what, if anything, the edges of a Chunk mean
type Boundary int

const (
	// BoundaryUnbounded is a slice of a continuous byte stream. Its edges carry no meaning.
	BoundaryUnbounded Boundary = iota

	// BoundaryDatagram is exactly one UDP datagram, as received.
	BoundaryDatagram

	// BoundaryFrame is exactly one WebSocket message, as received.
	BoundaryFrame
)

var boundaryNames = [...]string{"unbounded", "datagram", "frame"}

func (b Boundary) String() string {
	if b < 0 || int(b) >= len(boundaryNames) {
		return fmt.Sprintf("Boundary(%d)", int(b))
	}
	return boundaryNames[b]
}

// BoundaryForKind returns the Boundary tag carried by chunks read from a channel of the given kind
func BoundaryForKind(kind Kind) Boundary {
	switch kind {
	case KindUDP:
		return BoundaryDatagram
	case KindWebSocket:
		return BoundaryFrame
	default:
		return BoundaryUnbounded
	}
}

// Chunk is one discrete unit of transfer. A Chunk is immutable once it has been
// returned by ReadChunk; the same Chunk is handed to every sink.
type Chunk struct {
	// Payload is the data. It is never shared with a channel's internal buffers.
	Payload []byte

	// Boundary is fixed by the kind of the channel that produced the Chunk
	Boundary Boundary

	// Text is true if the Chunk arrived as a WebSocket text message. Only meaningful
	// for BoundaryFrame.
	Text bool
}

// NewChunk creates a Chunk that takes ownership of payload
func NewChunk(payload []byte, boundary Boundary) *Chunk {
	return &Chunk{Payload: payload, Boundary: boundary}
}

// Len returns the number of payload bytes
func (c *Chunk) Len() int {
	return len(c.Payload)
}

func (c *Chunk) String() string {
	if c.Text {
		return fmt.Sprintf("Chunk(%s/text, %d bytes)", c.Boundary, len(c.Payload))
	}
	return fmt.Sprintf("Chunk(%s, %d bytes)", c.Boundary, len(c.Payload))
}
