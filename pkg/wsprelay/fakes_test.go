package wsprelay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sammck-go/wspipe/pkg/logger"
	"github.com/sammck-go/wspipe/pkg/wspchannel"
)

// fakeSource returns the chunks sent on feed, then ends the stream when feed is closed.
// If failWith is set, the end of feed is reported as that error instead.
type fakeSource struct {
	wspchannel.BasicChannel
	feed     chan *wspchannel.Chunk
	failWith error
	reads    atomic.Int32
}

func newFakeSource(buffered int) *fakeSource {
	s := &fakeSource{feed: make(chan *wspchannel.Chunk, buffered)}
	desc := wspchannel.ChannelDescriptor{Kind: wspchannel.KindUDP, Role: wspchannel.RoleServer, Direction: wspchannel.DirectionSource, Address: "fake:0"}
	s.InitBasicChannel(s, logger.NewNop(), desc, wspchannel.CapReadable)
	if err := s.ActivateOpen(); err != nil {
		panic(err)
	}
	return s
}

// newLoadedSource returns a source that yields n numbered chunks and then ends
func newLoadedSource(n int) *fakeSource {
	s := newFakeSource(n)
	for i := 0; i < n; i++ {
		s.feed <- numberedChunk(i)
	}
	close(s.feed)
	return s
}

func numberedChunk(i int) *wspchannel.Chunk {
	return wspchannel.NewChunk([]byte(fmt.Sprintf("chunk-%04d", i)), wspchannel.BoundaryDatagram)
}

func (s *fakeSource) HandleOnceShutdown(completionErr error) error {
	s.SetFinalState(wspchannel.StateClosed)
	return completionErr
}

func (s *fakeSource) ReadChunk() (*wspchannel.Chunk, error) {
	if err := s.CheckReadable(); err != nil {
		return nil, err
	}
	s.reads.Add(1)
	select {
	case chunk, ok := <-s.feed:
		if !ok {
			if s.failWith != nil {
				return nil, s.Fail(&wspchannel.IOError{Op: "read", Channel: s.String(), Err: s.failWith})
			}
			return nil, s.EndOfStream()
		}
		s.CountRead(chunk.Len())
		return chunk, nil
	case <-s.ShutdownStartedChan():
		return nil, s.EndOfStream()
	}
}

func (s *fakeSource) WriteChunk(*wspchannel.Chunk) error {
	return wspchannel.ErrNotWritable
}

// fakeSink records what it is given. Writes can be gated, made to fail, or size-limited.
type fakeSink struct {
	wspchannel.BasicChannel
	mu        sync.Mutex
	got       []string
	writes    int
	failOn    int
	maxSize   int
	gate      chan struct{}
	delivered chan struct{}
}

func newFakeSink(kind wspchannel.Kind) *fakeSink {
	s := &fakeSink{delivered: make(chan struct{}, 1024)}
	desc := wspchannel.ChannelDescriptor{Kind: kind, Direction: wspchannel.DirectionSink, Address: "fake:1"}
	s.InitBasicChannel(s, logger.NewNop(), desc, wspchannel.CapWritable)
	if err := s.ActivateOpen(); err != nil {
		panic(err)
	}
	return s
}

func (s *fakeSink) HandleOnceShutdown(completionErr error) error {
	s.SetFinalState(wspchannel.StateClosed)
	return completionErr
}

func (s *fakeSink) ReadChunk() (*wspchannel.Chunk, error) {
	return nil, wspchannel.ErrNotReadable
}

func (s *fakeSink) WriteChunk(chunk *wspchannel.Chunk) error {
	if err := s.CheckWritable(); err != nil {
		return err
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ShutdownStartedChan():
			return wspchannel.ErrClosed
		}
	}
	s.mu.Lock()
	s.writes++
	n := s.writes
	s.mu.Unlock()
	if s.failOn > 0 && n >= s.failOn {
		return s.Fail(&wspchannel.IOError{Op: "write", Channel: s.String(), Err: errors.New("peer went away")})
	}
	if s.maxSize > 0 && chunk.Len() > s.maxSize {
		return &wspchannel.PayloadTooLargeError{Size: chunk.Len(), Limit: s.maxSize}
	}
	s.mu.Lock()
	s.got = append(s.got, string(chunk.Payload))
	s.mu.Unlock()
	s.CountWritten(chunk.Len())
	s.delivered <- struct{}{}
	return nil
}

func (s *fakeSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func expectedChunks(from, to int) []string {
	var result []string
	for i := from; i < to; i++ {
		result = append(result, string(numberedChunk(i).Payload))
	}
	return result
}

// fakeOpener hands out prepared channels keyed by descriptor token
type fakeOpener struct {
	mu       sync.Mutex
	channels map[string]wspchannel.Channel
	errs     map[string]error
	block    map[string]bool
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		channels: make(map[string]wspchannel.Channel),
		errs:     make(map[string]error),
		block:    make(map[string]bool),
	}
}

func (o *fakeOpener) Open(ctx context.Context, desc wspchannel.ChannelDescriptor) (wspchannel.Channel, error) {
	o.mu.Lock()
	ch, err, block := o.channels[desc.Token], o.errs[desc.Token], o.block[desc.Token]
	o.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, &wspchannel.ConnectionError{Descriptor: desc, Attempts: 1, Err: ctx.Err()}
	}
	if err != nil {
		return nil, &wspchannel.ConnectionError{Descriptor: desc, Attempts: 2, Err: err}
	}
	if ch == nil {
		return nil, fmt.Errorf("no fake channel for %s", desc.Token)
	}
	return ch, nil
}
