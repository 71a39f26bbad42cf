package wspchannel

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wspipe/pkg/logger"
)

var (
	stdinDesc  = ChannelDescriptor{Kind: KindStdio, Role: RoleNone, Direction: DirectionSource}
	stdoutDesc = ChannelDescriptor{Kind: KindStdio, Role: RoleNone, Direction: DirectionSink}
)

type bufferWriteCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferWriteCloser) Close() error {
	b.closed = true
	return nil
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failingWriter) Close() error                { return nil }

func TestStdioSourceRaw(t *testing.T) {
	local, remote, err := socketpair.New("unix")
	require.NoError(t, err)
	defer remote.Close()

	c, err := NewStdioChannel(logger.NewNop(), stdinDesc, local, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StateOpen, c.State())
	assert.True(t, c.Capabilities().Readable())
	assert.False(t, c.Capabilities().Writable())

	_, err = remote.Write([]byte("hello, world"))
	require.NoError(t, err)

	var got []byte
	for len(got) < len("hello, world") {
		chunk, err := c.ReadChunk()
		require.NoError(t, err)
		assert.Equal(t, BoundaryUnbounded, chunk.Boundary)
		got = append(got, chunk.Payload...)
	}
	assert.Equal(t, "hello, world", string(got))

	remote.Close()
	_, err = c.ReadChunk()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, c.WaitShutdown())
	assert.Equal(t, uint64(len("hello, world")), c.Stats().BytesRead)
}

func TestStdioSourceLines(t *testing.T) {
	opts := DefaultOptions()
	opts.StdinFraming = StdinFramingLines
	opts.ReadBufferSize = 16
	input := io.NopCloser(strings.NewReader("a\nbb\nthis line is too long\nlast"))

	c, err := NewStdioChannel(logger.NewNop(), stdinDesc, input, nil, opts)
	require.NoError(t, err)

	var lines []string
	for {
		chunk, err := c.ReadChunk()
		if err != nil {
			assert.ErrorIs(t, err, ErrClosed)
			break
		}
		lines = append(lines, string(chunk.Payload))
	}
	assert.Equal(t, []string{"a\n", "bb\n", "this line is too", " long\n", "last"}, lines)
	assert.Equal(t, StateClosed, c.State())
}

func TestStdioCloseUnblocksRead(t *testing.T) {
	local, remote, err := socketpair.New("unix")
	require.NoError(t, err)
	defer remote.Close()

	c, err := NewStdioChannel(logger.NewNop(), stdinDesc, local, nil, DefaultOptions())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.ReadChunk()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after Close")
	}
}

func TestStdioSink(t *testing.T) {
	out := &bufferWriteCloser{}
	c, err := NewStdioChannel(logger.NewNop(), stdoutDesc, nil, out, DefaultOptions())
	require.NoError(t, err)

	_, err = c.ReadChunk()
	assert.ErrorIs(t, err, ErrNotReadable)

	require.NoError(t, c.WriteChunk(NewChunk([]byte("one"), BoundaryDatagram)))
	require.NoError(t, c.WriteChunk(NewChunk([]byte("two"), BoundaryFrame)))
	assert.Equal(t, "onetwo", out.String())
	assert.Equal(t, uint64(2), c.Stats().ChunksWritten)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, out.closed)
	assert.ErrorIs(t, c.WriteChunk(NewChunk([]byte("three"), BoundaryUnbounded)), ErrClosed)
}

func TestStdioSinkWriteFailure(t *testing.T) {
	c, err := NewStdioChannel(logger.NewNop(), stdoutDesc, nil, failingWriter{}, DefaultOptions())
	require.NoError(t, err)

	err = c.WriteChunk(NewChunk([]byte("x"), BoundaryUnbounded))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
	assert.Equal(t, StateFailed, c.State())
	c.WaitShutdown()
	assert.Equal(t, StateFailed, c.State())
}
