package wspchannel

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/wspipe/pkg/logger"
)

// acceptOne starts a listener on an ephemeral port, dials it, and returns both ends
func acceptOne(t *testing.T, dir Direction, opts Options) (*WebSocketChannel, *websocket.Conn, *WebSocketListener) {
	t.Helper()
	ctx := context.Background()
	l := NewWebSocketListener(logger.NewNop(), opts)
	require.NoError(t, l.Start(ctx, "127.0.0.1:0"))
	t.Cleanup(func() { l.Close() })

	url := "ws://" + l.Addr().String() + "/"
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	conn, err := l.Accept(ctx)
	require.NoError(t, err)
	desc := ChannelDescriptor{Kind: KindWebSocket, Role: RoleServer, Direction: dir, Address: l.Addr().String()}
	c, err := NewWebSocketChannel(logger.NewNop(), desc, conn, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, peer, l
}

func TestWebSocketSourceFrames(t *testing.T) {
	c, peer, _ := acceptOne(t, DirectionSource, DefaultOptions())

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, peer.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2}))
	require.NoError(t, peer.WriteMessage(websocket.BinaryMessage, []byte{}))

	chunk, err := c.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, BoundaryFrame, chunk.Boundary)
	assert.True(t, chunk.Text)
	assert.Equal(t, "hello", string(chunk.Payload))

	chunk, err = c.ReadChunk()
	require.NoError(t, err)
	assert.False(t, chunk.Text)
	assert.Equal(t, []byte{0, 1, 2}, chunk.Payload)

	chunk, err = c.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, 0, chunk.Len())

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, peer.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	_, err = c.ReadChunk()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateClosed, c.State())
}

func TestWebSocketSourceDroppedConnectionFails(t *testing.T) {
	c, peer, _ := acceptOne(t, DirectionSource, DefaultOptions())

	// Drop the TCP connection without a close frame
	require.NoError(t, peer.UnderlyingConn().Close())

	_, err := c.ReadChunk()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateFailed, c.State())
}

func TestWebSocketSinkMessages(t *testing.T) {
	c, peer, _ := acceptOne(t, DirectionSink, DefaultOptions())

	require.NoError(t, c.WriteChunk(NewChunk([]byte("from stdin"), BoundaryUnbounded)))
	require.NoError(t, c.WriteChunk(&Chunk{Payload: []byte("text frame"), Boundary: BoundaryFrame, Text: true}))

	mt, data, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, "from stdin", string(data))

	mt, data, err = peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "text frame", string(data))

	// Data sent by the sink's peer is discarded; its close frame closes the sink
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte("ignored")))
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	require.NoError(t, peer.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	select {
	case <-c.ShutdownStartedChan():
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not notice the close frame")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.WriteChunk(NewChunk([]byte("late"), BoundaryUnbounded)), ErrClosed)
}

func TestWebSocketSinkTextMessageType(t *testing.T) {
	opts := DefaultOptions()
	opts.WSMessageType = MessageTypeText
	c, peer, _ := acceptOne(t, DirectionSink, opts)

	require.NoError(t, c.WriteChunk(NewChunk([]byte("line\n"), BoundaryUnbounded)))
	mt, _, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
}

func TestWebSocketSinkPreservesFrameType(t *testing.T) {
	for _, mt := range []MessageType{MessageTypeBinary, MessageTypeText} {
		opts := DefaultOptions()
		opts.WSMessageType = mt
		c, peer, _ := acceptOne(t, DirectionSink, opts)

		require.NoError(t, c.WriteChunk(&Chunk{Payload: []byte{0xff, 0x00}, Boundary: BoundaryFrame}))
		require.NoError(t, c.WriteChunk(&Chunk{Payload: []byte("words"), Boundary: BoundaryFrame, Text: true}))

		got, data, err := peer.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, got, "configured %s", mt)
		assert.Equal(t, []byte{0xff, 0x00}, data)

		got, _, err = peer.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, got, "configured %s", mt)
	}
}

func TestWebSocketListenerRejectsSecondPeer(t *testing.T) {
	_, _, l := acceptOne(t, DirectionSink, DefaultOptions())

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+l.Addr().String()+"/", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebSocketListenerHealthAndVersion(t *testing.T) {
	opts := DefaultOptions()
	opts.Version = "1.2.3"
	l := NewWebSocketListener(logger.NewNop(), opts)
	require.NoError(t, l.Start(context.Background(), "127.0.0.1:0"))
	defer l.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + l.Addr().String() + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK\n", body)

	code, body = get("/version")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.2.3", body)

	code, _ = get("/nothing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWebSocketListenerAcceptCancelled(t *testing.T) {
	l := NewWebSocketListener(logger.NewNop(), DefaultOptions())
	require.NoError(t, l.Start(context.Background(), "127.0.0.1:0"))
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebSocketKeepAlive(t *testing.T) {
	opts := DefaultOptions()
	opts.WSKeepAlive = 10 * time.Millisecond
	_, peer, _ := acceptOne(t, DirectionSink, opts)

	pinged := make(chan struct{}, 1)
	peer.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := peer.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive ping received")
	}
}
