package wspchannel

import (
	"bufio"
	"errors"
	"io"

	"go.uber.org/multierr"

	"github.com/sammck-go/wspipe/pkg/logger"
)

type flusher interface {
	Flush() error
}

// StdioChannel implements a Channel over a read stream (as a source, normally stdin) or a
// write stream (as a sink, normally stdout). Chunks read are BoundaryUnbounded.
type StdioChannel struct {
	BasicChannel
	input      io.ReadCloser
	output     io.WriteCloser
	framing    StdinFraming
	bufSize    int
	lineReader *bufio.Reader
	pendingErr error
}

// NewStdioChannel creates an open StdioChannel. Exactly one of input and output is used,
// according to the descriptor's direction.
func NewStdioChannel(logger logger.Logger, desc ChannelDescriptor, input io.ReadCloser, output io.WriteCloser, opts Options) (*StdioChannel, error) {
	c := &StdioChannel{
		framing: opts.StdinFraming,
		bufSize: opts.ReadBufferSize,
	}
	var caps Capability
	if desc.Direction == DirectionSource {
		if input == nil {
			return nil, errors.New("stdio source requires an input stream")
		}
		c.input = input
		caps = CapReadable
		if c.framing == StdinFramingLines {
			c.lineReader = bufio.NewReaderSize(input, c.bufSize)
		}
	} else {
		if output == nil {
			return nil, errors.New("stdio sink requires an output stream")
		}
		c.output = output
		caps = CapWritable
	}
	c.InitBasicChannel(c, logger, desc, caps)
	if err := c.ActivateOpen(); err != nil {
		return nil, err
	}
	return c, nil
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (c *StdioChannel) HandleOnceShutdown(completionErr error) error {
	c.SetFinalState(StateClosed)
	var err error
	if c.output != nil {
		if f, ok := c.output.(flusher); ok {
			err = multierr.Append(err, f.Flush())
		}
		err = multierr.Append(err, c.output.Close())
	}
	if c.input != nil {
		err = multierr.Append(err, c.input.Close())
	}
	if err != nil {
		c.DLogf("close: %s", err)
	}
	return completionErr
}

// ReadChunk returns the next slice of the input stream
func (c *StdioChannel) ReadChunk() (*Chunk, error) {
	if err := c.CheckReadable(); err != nil {
		return nil, err
	}
	if c.pendingErr != nil {
		return nil, c.readFailed(c.pendingErr)
	}

	var payload []byte
	var err error
	if c.lineReader != nil {
		var line []byte
		line, err = c.lineReader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			err = nil
		}
		if len(line) > 0 {
			payload = make([]byte, len(line))
			copy(payload, line)
		}
	} else {
		buf := make([]byte, c.bufSize)
		var n int
		n, err = c.input.Read(buf)
		if n > 0 {
			payload = buf[:n:n]
		}
	}

	if len(payload) > 0 {
		// Deliver what we have; report the error on the next call
		c.pendingErr = err
		c.CountRead(len(payload))
		return NewChunk(payload, BoundaryForKind(c.Kind())), nil
	}
	if err == nil {
		return c.ReadChunk()
	}
	return nil, c.readFailed(err)
}

func (c *StdioChannel) readFailed(err error) error {
	if errors.Is(err, io.EOF) || c.IsStartedShutdown() {
		return c.EndOfStream()
	}
	return c.Fail(&IOError{Op: "read", Channel: c.String(), Err: err})
}

// WriteChunk writes the chunk's payload to the output stream and flushes it
func (c *StdioChannel) WriteChunk(chunk *Chunk) error {
	if err := c.CheckWritable(); err != nil {
		return err
	}
	_, err := c.output.Write(chunk.Payload)
	if err == nil {
		if f, ok := c.output.(flusher); ok {
			err = f.Flush()
		}
	}
	if err != nil {
		if c.IsStartedShutdown() {
			return ErrClosed
		}
		return c.Fail(&IOError{Op: "write", Channel: c.String(), Err: err})
	}
	c.CountWritten(chunk.Len())
	return nil
}
