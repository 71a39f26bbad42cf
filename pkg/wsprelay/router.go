package wsprelay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jpillora/sizestr"

	"github.com/sammck-go/wspipe/pkg/asyncobj"
	"github.com/sammck-go/wspipe/pkg/logger"
	"github.com/sammck-go/wspipe/pkg/wspchannel"
)

// RouterState is the lifecycle state of a Router
type RouterState int32

const (
	// RouterIdle routers have not started relaying
	RouterIdle RouterState = iota

	// RouterRelaying routers are copying chunks from the source to the sinks
	RouterRelaying

	// RouterDraining routers have stopped reading and are flushing sink queues
	RouterDraining

	// RouterTerminated routers have closed every channel
	RouterTerminated
)

var routerStateNames = [...]string{"idle", "relaying", "draining", "terminated"}

func (s RouterState) String() string {
	if s < 0 || int(s) >= len(routerStateNames) {
		return fmt.Sprintf("RouterState(%d)", int(s))
	}
	return routerStateNames[s]
}

// TerminationReason records why a Router stopped
type TerminationReason int

const (
	// ReasonNone means the router has not stopped
	ReasonNone TerminationReason = iota

	// ReasonSourceClosed means the source reached a normal end of stream
	ReasonSourceClosed

	// ReasonSourceFailed means reading the source failed
	ReasonSourceFailed

	// ReasonAllSinksFailed means no sink was left to deliver to
	ReasonAllSinksFailed

	// ReasonShutdown means shutdown was requested from outside
	ReasonShutdown
)

var reasonNames = [...]string{"running", "source closed", "source failed", "all sinks failed", "shutdown requested"}

func (r TerminationReason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("TerminationReason(%d)", int(r))
	}
	return reasonNames[r]
}

// ErrAllSinksFailed is the completion error of a router whose every sink failed
var ErrAllSinksFailed = errors.New("all sinks failed")

// RouterOptions controls queueing and shutdown
type RouterOptions struct {
	// QueueDepth is the capacity, in chunks, of each sink's queue
	QueueDepth int

	// GracePeriod bounds how long sinks may keep draining once reading has stopped
	GracePeriod time.Duration

	// Clock drives the grace timer. Defaults to the real clock.
	Clock clock.Clock
}

type sinkPath struct {
	index    int
	sink     wspchannel.Channel
	queue    *chunkQueue
	dead     chan struct{}
	deadOnce sync.Once

	chunksDelivered atomic.Uint64
	bytesDelivered  atomic.Uint64
	chunksRejected  atomic.Uint64

	// err is protected by the router's Lock
	err error
}

// Router fans chunks read from one source channel out to every open sink channel. One
// goroutine reads the source; one goroutine per sink writes, fed through a bounded queue.
// The router owns the channels it is given and closes all of them when it terminates.
type Router struct {
	*asyncobj.Helper
	opts   RouterOptions
	clock  clock.Clock
	source wspchannel.Channel
	paths  []*sinkPath
	sinks  SinkCounts
	state  atomic.Int32

	// reason and termErr are protected by Lock
	reason  TerminationReason
	termErr error
	started bool

	chunksRead atomic.Uint64
	bytesRead  atomic.Uint64

	stopping   chan struct{}
	abort      chan struct{}
	abortOnce  sync.Once
	readerDone chan struct{}
	writersWG  sync.WaitGroup
}

// NewRouter creates an idle Router. Sinks are delivered to in the order given.
func NewRouter(logger logger.Logger, source wspchannel.Channel, sinks []wspchannel.Channel, opts RouterOptions) (*Router, error) {
	if source == nil || !source.Capabilities().Readable() {
		return nil, fmt.Errorf("router source must be readable")
	}
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}
	if opts.QueueDepth < 1 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	r := &Router{
		opts:       opts,
		clock:      opts.Clock,
		source:     source,
		stopping:   make(chan struct{}),
		abort:      make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	for i, sink := range sinks {
		if !sink.Capabilities().Writable() {
			return nil, fmt.Errorf("router sink %d (%s) is not writable", i+1, sink)
		}
		r.paths = append(r.paths, &sinkPath{
			index: i + 1,
			sink:  sink,
			queue: newChunkQueue(opts.QueueDepth, PolicyForKind(sink.Kind())),
			dead:  make(chan struct{}),
		})
	}
	r.Helper = asyncobj.NewHelper(logger.Fork("Router"), r)
	return r, nil
}

func (r *Router) String() string {
	return fmt.Sprintf("Router(%s => %d sinks)", r.source, len(r.paths))
}

// State returns the router's current state
func (r *Router) State() RouterState {
	return RouterState(r.state.Load())
}

func (r *Router) setState(s RouterState) {
	old := RouterState(r.state.Swap(int32(s)))
	if old != s {
		r.DLogf("%s -> %s", old, s)
	}
}

// Start moves the router from Idle to Relaying. The source and at least one sink must be open.
func (r *Router) Start() error {
	return r.DoOnceActivate(
		func() error {
			if r.source.State() != wspchannel.StateOpen {
				return r.Errorf("source %s is %s", r.source, r.source.State())
			}
			var live []*sinkPath
			for _, p := range r.paths {
				if p.sink.State() == wspchannel.StateOpen {
					live = append(live, p)
				} else {
					r.WLogf("sink %d %s is %s; excluded", p.index, p.sink, p.sink.State())
					p.deadOnce.Do(func() { close(p.dead) })
				}
			}
			if len(live) == 0 {
				return ErrNoSinks
			}
			for range live {
				r.sinks.Add()
			}

			r.Lock.Lock()
			r.started = true
			r.Lock.Unlock()
			r.setState(RouterRelaying)

			r.writersWG.Add(len(live))
			for _, p := range live {
				go r.writeLoop(p)
			}
			go r.readLoop()
			r.ILogf("relaying %s to %s sinks", r.source, &r.sinks)
			return nil
		},
		false,
	)
}

// Stop requests a graceful shutdown: reading stops and queued chunks are drained
func (r *Router) Stop() {
	r.terminate(ReasonShutdown, nil)
}

// Wait blocks until the router has terminated and returns its result
func (r *Router) Wait() (*Result, error) {
	err := r.WaitShutdown()
	return r.Result(), err
}

func (r *Router) isStopping() bool {
	select {
	case <-r.stopping:
		return true
	default:
		return false
	}
}

// terminate records the first termination reason and starts shutdown
func (r *Router) terminate(reason TerminationReason, err error) {
	r.Lock.Lock()
	if r.reason == ReasonNone {
		r.reason = reason
		r.termErr = err
	}
	r.Lock.Unlock()
	r.StartShutdown(err)
}

func (r *Router) readLoop() {
	defer close(r.readerDone)
	defer func() {
		for _, p := range r.paths {
			p.queue.close()
		}
	}()

	for {
		if r.isStopping() || r.sinks.Open() == 0 {
			return
		}
		chunk, err := r.source.ReadChunk()
		if err != nil {
			if errors.Is(err, wspchannel.ErrClosed) {
				r.DLogf("source closed after %s", r.BytesRead())
				r.terminate(ReasonSourceClosed, nil)
			} else {
				r.ELogf("source failed: %s", err)
				r.terminate(ReasonSourceFailed, err)
			}
			return
		}
		r.chunksRead.Add(1)
		r.bytesRead.Add(uint64(chunk.Len()))
		if r.isStopping() {
			r.DLogf("discarding %s read during shutdown", chunk)
			return
		}
		r.TLogf("read %s", chunk)
		for _, p := range r.paths {
			p.queue.push(chunk, p.dead, r.abort)
		}
	}
}

func (r *Router) writeLoop(p *sinkPath) {
	defer r.writersWG.Done()
	for {
		select {
		case chunk, ok := <-p.queue.ch:
			if !ok {
				return
			}
			if !r.deliver(p, chunk) {
				return
			}
		case <-r.stopping:
			r.drain(p)
			return
		case <-p.sink.ShutdownStartedChan():
			r.removeSink(p, wspchannel.ErrClosed)
			return
		case <-r.abort:
			return
		}
	}
}

// drain delivers whatever is already queued for p, without waiting for more
func (r *Router) drain(p *sinkPath) {
	for {
		select {
		case <-r.abort:
			return
		case <-p.dead:
			return
		default:
		}
		select {
		case chunk, ok := <-p.queue.ch:
			if !ok || !r.deliver(p, chunk) {
				return
			}
		default:
			return
		}
	}
}

// deliver writes one chunk to a sink. It returns false if the sink has been removed.
func (r *Router) deliver(p *sinkPath, chunk *wspchannel.Chunk) bool {
	err := p.sink.WriteChunk(chunk)
	switch {
	case err == nil:
		p.chunksDelivered.Add(1)
		p.bytesDelivered.Add(uint64(chunk.Len()))
		return true
	case errors.Is(err, wspchannel.ErrPayloadTooLarge):
		p.chunksRejected.Add(1)
		r.WLogf("sink %d %s: %s; chunk dropped", p.index, p.sink, err)
		return true
	default:
		r.removeSink(p, err)
		return false
	}
}

// removeSink permanently takes a sink out of delivery and closes it. When the last
// sink goes the router terminates.
func (r *Router) removeSink(p *sinkPath, err error) {
	p.deadOnce.Do(func() {
		// The count drops before dead closes so the reader never sees a dead queue
		// while the count still includes it
		remaining := r.sinks.Close()
		close(p.dead)
		r.Lock.Lock()
		if !errors.Is(err, wspchannel.ErrClosed) || p.sink.State() == wspchannel.StateFailed {
			p.err = err
		}
		r.Lock.Unlock()
		if r.isStopping() {
			r.DLogf("sink %d %s closed during shutdown", p.index, p.sink)
		} else {
			r.WLogf("sink %d %s removed (%s): %s; %s sinks open", p.index, p.sink, p.sink.State(), err, &r.sinks)
		}
		p.sink.StartShutdown(nil)
		if remaining == 0 {
			r.terminate(ReasonAllSinksFailed, ErrAllSinksFailed)
		}
	})
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (r *Router) HandleOnceShutdown(completionErr error) error {
	r.Lock.Lock()
	if r.reason == ReasonNone {
		r.reason = ReasonShutdown
	}
	reason := r.reason
	started := r.started
	r.Lock.Unlock()

	if reason != ReasonAllSinksFailed {
		r.setState(RouterDraining)
	}
	close(r.stopping)
	r.source.StartShutdown(nil)

	if started {
		writersDone := make(chan struct{})
		go func() {
			r.writersWG.Wait()
			close(writersDone)
		}()

		grace := r.clock.Timer(r.opts.GracePeriod)
		select {
		case <-writersDone:
			grace.Stop()
		case <-grace.C:
			r.WLogf("grace period of %s expired; abandoning undelivered chunks", r.opts.GracePeriod)
		}
		r.abortOnce.Do(func() { close(r.abort) })

		for _, p := range r.paths {
			p.sink.StartShutdown(nil)
		}
		// Closing a blocking file does not always interrupt a write in progress
		stuck := r.clock.Timer(r.opts.GracePeriod)
		select {
		case <-writersDone:
			stuck.Stop()
		case <-stuck.C:
			r.WLogf("sink writes still blocked after close; abandoning them")
		}

		select {
		case <-r.readerDone:
		default:
			r.DLogf("source read still pending; not waiting for it")
		}
	} else {
		for _, p := range r.paths {
			p.sink.StartShutdown(nil)
		}
	}

	if err := r.source.WaitShutdown(); err != nil {
		r.DLogf("source %s: %s", r.source, err)
	}
	for _, p := range r.paths {
		if err := p.sink.WaitShutdown(); err != nil {
			r.DLogf("sink %d %s: %s", p.index, p.sink, err)
		}
	}
	r.setState(RouterTerminated)

	result := r.Result()
	r.ILogf("terminated: %s", result)
	for _, s := range result.Sinks {
		r.DLogf("%s", s)
	}

	switch reason {
	case ReasonSourceFailed, ReasonAllSinksFailed:
		return result.Err
	case ReasonShutdown:
		if started {
			return nil
		}
		return completionErr
	default:
		return nil
	}
}

// Stats returns a snapshot of every sink's statistics, in sink order
func (r *Router) Stats() []SinkStats {
	r.Lock.Lock()
	defer r.Lock.Unlock()
	stats := make([]SinkStats, 0, len(r.paths))
	for _, p := range r.paths {
		stats = append(stats, SinkStats{
			Index:           p.index,
			Name:            p.sink.String(),
			Kind:            p.sink.Kind(),
			Policy:          p.queue.policy,
			State:           p.sink.State(),
			ChunksDelivered: p.chunksDelivered.Load(),
			BytesDelivered:  p.bytesDelivered.Load(),
			ChunksDropped:   p.queue.dropped.Load(),
			ChunksRejected:  p.chunksRejected.Load(),
			Err:             p.err,
		})
	}
	return stats
}

// Result returns the router's summary. Reason is ReasonNone until the router stops.
func (r *Router) Result() *Result {
	stats := r.Stats()
	r.Lock.Lock()
	defer r.Lock.Unlock()
	return &Result{
		Reason:     r.reason,
		Err:        r.termErr,
		ChunksRead: r.chunksRead.Load(),
		BytesRead:  r.bytesRead.Load(),
		Sinks:      stats,
	}
}

// BytesRead returns the number of payload bytes read from the source so far, formatted for humans
func (r *Router) BytesRead() string {
	return sizestr.ToString(int64(r.bytesRead.Load()))
}
