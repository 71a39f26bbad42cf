package wspchannel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrClosed is returned by ReadChunk and WriteChunk once a channel has closed,
	// either because the peer ended the stream or because Close was called.
	ErrClosed = errors.New("channel closed")

	// ErrPayloadTooLarge is matched (with errors.Is) by the error WriteChunk returns when
	// a chunk cannot be sent as a single datagram. The channel stays open.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrNotReadable is returned by ReadChunk on a write-only channel
	ErrNotReadable = errors.New("channel is not readable")

	// ErrNotWritable is returned by WriteChunk on a read-only channel
	ErrNotWritable = errors.New("channel is not writable")
)

// PayloadTooLargeError reports a chunk that exceeds a channel's datagram size limit
type PayloadTooLargeError struct {
	Size  int
	Limit int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload too large: %d bytes exceeds datagram limit of %d", e.Size, e.Limit)
}

// Is makes errors.Is(err, ErrPayloadTooLarge) true
func (e *PayloadTooLargeError) Is(target error) bool {
	return target == ErrPayloadTooLarge
}

// ConnectionError reports that a descriptor could not be turned into an open channel
type ConnectionError struct {
	Descriptor ChannelDescriptor
	Attempts   int
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to open %s after %d attempt(s): %s", e.Descriptor, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IOError reports a runtime read or write failure on an established channel
type IOError struct {
	Op      string
	Channel string
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s failed: %s", e.Channel, e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a malformed or unexpected WebSocket frame
type ProtocolError struct {
	Channel string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %s", e.Channel, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsExpectedCloseError reports whether err is a normal end of stream: EOF, an already
// closed connection, broken pipe, or connection reset. These errors show up in reads
// and writes that race with our own Close and are not transport failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed) {
		return true
	}
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
