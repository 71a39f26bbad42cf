package wsprelay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wspipe/pkg/logger"
	"github.com/sammck-go/wspipe/pkg/wspchannel"
)

func mustParseArgs(t *testing.T, args ...string) (wspchannel.ChannelDescriptor, []wspchannel.ChannelDescriptor) {
	t.Helper()
	source, sinks, err := wspchannel.ParseArgs(args)
	require.NoError(t, err)
	return source, sinks
}

func TestSessionRelays(t *testing.T) {
	src := newLoadedSource(10)
	s1 := newFakeSink(wspchannel.KindWebSocket)
	s2 := newFakeSink(wspchannel.KindUDP)
	opener := newFakeOpener()
	opener.channels["udp://:9000"] = src
	opener.channels["ws://a:1/"] = s1
	opener.channels["udp://10.0.0.1:9001"] = s2

	source, sinks := mustParseArgs(t, "udp://:9000", "ws://a:1/", "udp://10.0.0.1:9001")
	s, err := NewSession(logger.NewNop(), DefaultConfig(), source, sinks, WithOpener(opener))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonSourceClosed, result.Reason)
	assert.Equal(t, expectedChunks(0, 10), s1.received())
	assert.Equal(t, expectedChunks(0, 10), s2.received())
	assert.Equal(t, ExitOK, ExitCode(err))
}

func TestSessionSourceConnectionErrorIsFatal(t *testing.T) {
	sink := newFakeSink(wspchannel.KindUDP)
	opener := newFakeOpener()
	opener.errs["ws://src:1/"] = errors.New("connection refused")
	opener.channels["udp://10.0.0.1:9001"] = sink
	opener.block["ws+listen://:8080"] = true

	source, sinks := mustParseArgs(t, "ws://src:1/", "udp://10.0.0.1:9001", "ws+listen://:8080")
	s, err := NewSession(logger.NewNop(), DefaultConfig(), source, sinks, WithOpener(opener))
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	var connErr *wspchannel.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "ws://src:1/", connErr.Descriptor.Token)
	assert.Equal(t, ExitStartup, ExitCode(err))
	assert.Equal(t, wspchannel.StateClosed, sink.State())
}

func TestSessionExcludesUnopenableSink(t *testing.T) {
	src := newLoadedSource(5)
	good := newFakeSink(wspchannel.KindStdio)
	opener := newFakeOpener()
	opener.channels["stdin"] = src
	opener.errs["ws://down:1/"] = errors.New("no route to host")
	opener.channels["stdout"] = good

	source, sinks := mustParseArgs(t, "stdin", "ws://down:1/", "stdout")
	s, err := NewSession(logger.NewNop(), DefaultConfig(), source, sinks, WithOpener(opener))
	require.NoError(t, err)

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expectedChunks(0, 5), good.received())
	require.Len(t, result.Sinks, 1)
}

func TestSessionNoSinks(t *testing.T) {
	src := newLoadedSource(5)
	opener := newFakeOpener()
	opener.channels["stdin"] = src
	opener.errs["ws://down:1/"] = errors.New("no route to host")

	source, sinks := mustParseArgs(t, "stdin", "ws://down:1/")
	s, err := NewSession(logger.NewNop(), DefaultConfig(), source, sinks, WithOpener(opener))
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoSinks)
	assert.Equal(t, ExitStartup, ExitCode(err))
	assert.Equal(t, wspchannel.StateClosed, src.State())
}

func TestSessionCancelIsGraceful(t *testing.T) {
	src := newFakeSource(0)
	sink := newFakeSink(wspchannel.KindWebSocket)
	opener := newFakeOpener()
	opener.channels["udp://:9000"] = src
	opener.channels[":8080"] = sink

	source, sinks := mustParseArgs(t, "udp://:9000", ":8080")
	s, err := NewSession(logger.NewNop(), DefaultConfig(), source, sinks, WithOpener(opener))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		src.feed <- numberedChunk(0)
		<-sink.delivered
		cancel()
	}()
	result, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonShutdown, result.Reason)
	assert.Equal(t, expectedChunks(0, 1), sink.received())
	assert.Equal(t, ExitOK, ExitCode(err))
}

func TestSessionCancelDuringStartup(t *testing.T) {
	src := newFakeSource(0)
	opener := newFakeOpener()
	opener.channels["udp://:9000"] = src
	opener.block[":8080"] = true

	source, sinks := mustParseArgs(t, "udp://:9000", ":8080")
	s, err := NewSession(logger.NewNop(), DefaultConfig(), source, sinks, WithOpener(opener))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonShutdown, result.Reason)
	assert.Equal(t, wspchannel.StateClosed, src.State())
}

func TestSessionRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueDepth = 0
	source, sinks := mustParseArgs(t, "stdin", "stdout")
	_, err := NewSession(logger.NewNop(), cfg, source, sinks)
	assert.Equal(t, ExitUsage, ExitCode(err))

	cfg = DefaultConfig()
	cfg.StdinFraming = "words"
	_, err = NewSession(logger.NewNop(), cfg, source, sinks)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

type bufferSink struct{ bytes.Buffer }

func (*bufferSink) Close() error { return nil }

// TestSessionStdinToStdoutAndUDP runs a real Connector end to end over loopback. Stdout
// must match byte for byte; UDP may lose datagrams but never reorders or corrupts them.
func TestSessionStdinToStdoutAndUDP(t *testing.T) {
	const chunkSize = 1024
	input := make([]byte, 100*chunkSize)
	for i := range input {
		input[i] = byte(i * 7)
	}

	receiver, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer receiver.Close()
	_ = receiver.SetReadBuffer(8 << 20)

	cfg := DefaultConfig()
	cfg.ReadBufferSize = chunkSize
	cfg.QueueDepth = 1024
	out := &bufferSink{}
	connector := wspchannel.NewConnector(logger.NewNop(), cfg.ChannelOptions())
	connector.Stdin = nopReadCloser{bytes.NewReader(input)}
	connector.Stdout = out

	source, sinks := mustParseArgs(t, "-", "-", "udp://"+receiver.LocalAddr().String())
	s, err := NewSession(logger.NewNop(), cfg, source, sinks, WithOpener(connector))
	require.NoError(t, err)

	received := make(chan [][]byte, 1)
	go func() {
		var got [][]byte
		buf := make([]byte, 65536)
		for len(got) < len(input)/chunkSize {
			_ = receiver.SetReadDeadline(time.Now().Add(time.Second))
			n, _, err := receiver.ReadFromUDP(buf)
			if err != nil {
				break
			}
			got = append(got, append([]byte(nil), buf[:n]...))
		}
		received <- got
	}()

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonSourceClosed, result.Reason)
	assert.True(t, bytes.Equal(input, out.Bytes()), "stdout output differs from input")

	udpStats := result.Sinks[1]
	assert.Equal(t, uint64(len(input)/chunkSize), udpStats.ChunksDelivered)

	datagrams := <-received
	require.NotEmpty(t, datagrams)
	next := 0
	for i, d := range datagrams {
		require.Len(t, d, chunkSize, "datagram %d", i)
		found := false
		for ; next+chunkSize <= len(input); next += chunkSize {
			if bytes.Equal(d, input[next:next+chunkSize]) {
				found = true
				next += chunkSize
				break
			}
		}
		require.True(t, found, "datagram %d is not an in-order slice of the input", i)
	}
}
