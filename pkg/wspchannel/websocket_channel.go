package wspchannel

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sammck-go/wspipe/pkg/logger"
)

const closeFrameTimeout = time.Second

// WebSocketChannel implements a Channel over a single WebSocket connection. As a source it
// returns one message per chunk; as a sink it sends one message per chunk and reads in the
// background so that pings and close frames from the peer are processed.
type WebSocketChannel struct {
	BasicChannel
	conn         *websocket.Conn
	writeTimeout time.Duration
	keepAlive    time.Duration
	messageType  int
}

// NewWebSocketChannel wraps an established WebSocket connection in an open channel
func NewWebSocketChannel(logger logger.Logger, desc ChannelDescriptor, conn *websocket.Conn, opts Options) (*WebSocketChannel, error) {
	c := &WebSocketChannel{
		conn:         conn,
		writeTimeout: opts.WSWriteTimeout,
		keepAlive:    opts.WSKeepAlive,
		messageType:  opts.WSMessageType.wsMessageType(),
	}
	caps := CapWritable
	if desc.Direction == DirectionSource {
		caps = CapReadable
	}
	c.InitBasicChannel(c, logger, desc, caps)
	if err := c.ActivateOpen(); err != nil {
		conn.Close()
		return nil, err
	}
	if !caps.Readable() {
		go c.discardIncoming()
	}
	if c.keepAlive > 0 {
		go c.keepAliveLoop()
	}
	c.DLogf("connected to %s", conn.RemoteAddr())
	return c, nil
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (c *WebSocketChannel) HandleOnceShutdown(completionErr error) error {
	if c.SetFinalState(StateClosed) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.DLogf("close frame not sent: %s", err)
		}
	}
	if err := c.conn.Close(); err != nil {
		c.DLogf("close: %s", err)
	}
	return completionErr
}

// ReadChunk returns exactly one received message
func (c *WebSocketChannel) ReadChunk() (*Chunk, error) {
	if err := c.CheckReadable(); err != nil {
		return nil, err
	}
	messageType, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, c.readFailed(err)
	}
	c.CountRead(len(payload))
	return &Chunk{
		Payload:  payload,
		Boundary: BoundaryForKind(c.Kind()),
		Text:     messageType == websocket.TextMessage,
	}, nil
}

// readFailed classifies a read error: a close frame or our own Close ends the stream
// normally, a malformed frame is a ProtocolError, and anything else is an IOError.
func (c *WebSocketChannel) readFailed(err error) error {
	if c.IsStartedShutdown() || errors.Is(err, net.ErrClosed) {
		return c.EndOfStream()
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		// 1006 is synthesized locally when the connection drops without a close frame
		if closeErr.Code != websocket.CloseAbnormalClosure {
			c.DLogf("peer closed: %s", closeErr)
			return c.EndOfStream()
		}
		return c.Fail(&IOError{Op: "read", Channel: c.String(), Err: io.ErrUnexpectedEOF})
	}
	if isWebSocketProtocolError(err) {
		return c.Fail(&ProtocolError{Channel: c.String(), Err: err})
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return c.Fail(&IOError{Op: "read", Channel: c.String(), Err: err})
}

// isWebSocketProtocolError recognizes the errors the websocket package returns after
// rejecting a malformed frame from the peer
func isWebSocketProtocolError(err error) bool {
	if errors.Is(err, websocket.ErrReadLimit) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}
	return strings.HasPrefix(err.Error(), "websocket: ")
}

// WriteChunk sends the chunk as exactly one message. A Frame chunk keeps the message type
// it was received with; other chunks use the configured message type.
func (c *WebSocketChannel) WriteChunk(chunk *Chunk) error {
	if err := c.CheckWritable(); err != nil {
		return err
	}
	messageType := c.messageType
	if chunk.Boundary == BoundaryFrame {
		messageType = websocket.BinaryMessage
		if chunk.Text {
			messageType = websocket.TextMessage
		}
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(messageType, chunk.Payload); err != nil {
		if c.IsStartedShutdown() || errors.Is(err, websocket.ErrCloseSent) {
			return ErrClosed
		}
		return c.Fail(&IOError{Op: "write", Channel: c.String(), Err: err})
	}
	c.CountWritten(chunk.Len())
	return nil
}

// discardIncoming keeps a sink's read side running so control frames are handled. Data
// messages from the peer are dropped.
func (c *WebSocketChannel) discardIncoming() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			_ = c.readFailed(err)
			return
		}
		c.TLogf("discarding %d-byte message from sink peer", len(payload))
	}
}

func (c *WebSocketChannel) keepAliveLoop() {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.ShutdownStartedChan():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.keepAlive)); err != nil {
				if !c.IsStartedShutdown() {
					c.DLogf("keepalive ping failed: %s", err)
				}
				return
			}
		}
	}
}
