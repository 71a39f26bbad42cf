package wsprelay

import (
	"sync/atomic"

	"github.com/sammck-go/wspipe/pkg/wspchannel"
)

// Policy decides what happens when a chunk is offered to a full sink queue
type Policy int

const (
	// PolicyBlock makes the source wait for room. Nothing is ever dropped.
	PolicyBlock Policy = iota

	// PolicyDropOldest discards the oldest queued chunk to make room for the newest
	PolicyDropOldest
)

func (p Policy) String() string {
	if p == PolicyBlock {
		return "block"
	}
	return "drop-oldest"
}

// PolicyForKind returns the backpressure policy for a sink of the given kind. Byte
// streams must not have gaps; datagram and message sinks prefer fresh data.
func PolicyForKind(kind wspchannel.Kind) Policy {
	if kind == wspchannel.KindStdio {
		return PolicyBlock
	}
	return PolicyDropOldest
}

// chunkQueue is a bounded FIFO between the source reader and one sink writer. Only the
// reader pushes and closes; only the writer pops.
type chunkQueue struct {
	ch      chan *wspchannel.Chunk
	policy  Policy
	dropped atomic.Uint64
}

func newChunkQueue(depth int, policy Policy) *chunkQueue {
	return &chunkQueue{
		ch:     make(chan *wspchannel.Chunk, depth),
		policy: policy,
	}
}

// push offers a chunk to the queue. It returns false without queueing if dead or abort
// is closed first. With PolicyBlock it waits for room; with PolicyDropOldest it never waits.
func (q *chunkQueue) push(chunk *wspchannel.Chunk, dead <-chan struct{}, abort <-chan struct{}) bool {
	if q.policy == PolicyBlock {
		select {
		case <-dead:
			return false
		case <-abort:
			return false
		default:
		}
		select {
		case q.ch <- chunk:
			return true
		case <-dead:
			return false
		case <-abort:
			return false
		}
	}

	for {
		select {
		case <-dead:
			return false
		default:
		}
		select {
		case q.ch <- chunk:
			return true
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// close is called by the reader once no more chunks will be pushed
func (q *chunkQueue) close() {
	close(q.ch)
}
