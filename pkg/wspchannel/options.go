package wspchannel

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// StdinFraming selects how standard input is sliced into chunks
type StdinFraming string

const (
	// StdinFramingRaw returns whatever each read of stdin produced
	StdinFramingRaw StdinFraming = "raw"

	// StdinFramingLines returns one newline-terminated line per chunk. Lines longer than
	// the read buffer are split.
	StdinFramingLines StdinFraming = "lines"
)

// MessageType selects the WebSocket message type used for chunks that did not arrive
// as text frames
type MessageType string

const (
	// MessageTypeBinary sends binary messages
	MessageTypeBinary MessageType = "binary"

	// MessageTypeText sends text messages
	MessageTypeText MessageType = "text"
)

func (m MessageType) wsMessageType() int {
	if m == MessageTypeText {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

const (
	// DefaultReadBufferSize is the read size used for stdin and WebSocket buffers
	DefaultReadBufferSize = 32 * 1024

	// DefaultMaxDatagramSize is the largest UDP payload that can be sent over IPv4
	DefaultMaxDatagramSize = 65507

	// maxUDPReceiveSize is the size of the receive buffer; larger than any legal datagram
	maxUDPReceiveSize = 65536
)

// Options controls how a Connector opens channels and how those channels behave
type Options struct {
	// ReadBufferSize is the maximum number of bytes returned by one stdin read, and the
	// size of WebSocket I/O buffers
	ReadBufferSize int

	// MaxDatagramSize is the largest payload a UDP sink will send
	MaxDatagramSize int

	// StdinFraming selects raw or line-oriented stdin chunking
	StdinFraming StdinFraming

	// WSMessageType is the message type used when writing chunks that did not arrive as text frames
	WSMessageType MessageType

	// WSWriteTimeout bounds a single WebSocket message write. 0 means no limit.
	WSWriteTimeout time.Duration

	// WSHandshakeTimeout bounds the WebSocket opening handshake
	WSHandshakeTimeout time.Duration

	// WSKeepAlive is the interval between WebSocket pings. 0 disables pings.
	WSKeepAlive time.Duration

	// ConnectRetries is the number of additional connection attempts after the first fails
	ConnectRetries int

	// RetryDelay is the pause before the first retry. Later retries double it, up to 8x.
	RetryDelay time.Duration

	// Version is reported by the WebSocket server's /version endpoint
	Version string
}

// DefaultOptions returns the default channel options
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:     DefaultReadBufferSize,
		MaxDatagramSize:    DefaultMaxDatagramSize,
		StdinFraming:       StdinFramingRaw,
		WSMessageType:      MessageTypeBinary,
		WSWriteTimeout:     10 * time.Second,
		WSHandshakeTimeout: 45 * time.Second,
		ConnectRetries:     1,
		Version:            "dev",
	}
}

// Validate checks that option values are usable
func (o Options) Validate() error {
	if o.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive, got %d", o.ReadBufferSize)
	}
	if o.MaxDatagramSize <= 0 || o.MaxDatagramSize > maxUDPReceiveSize {
		return fmt.Errorf("max datagram size must be in 1-%d, got %d", maxUDPReceiveSize, o.MaxDatagramSize)
	}
	switch o.StdinFraming {
	case StdinFramingRaw, StdinFramingLines:
	default:
		return fmt.Errorf("unknown stdin framing '%s' (want raw or lines)", o.StdinFraming)
	}
	switch o.WSMessageType {
	case MessageTypeBinary, MessageTypeText:
	default:
		return fmt.Errorf("unknown websocket message type '%s' (want binary or text)", o.WSMessageType)
	}
	if o.ConnectRetries < 0 {
		return fmt.Errorf("connect retries cannot be negative")
	}
	if o.WSWriteTimeout < 0 || o.WSHandshakeTimeout < 0 || o.WSKeepAlive < 0 || o.RetryDelay < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	return nil
}
