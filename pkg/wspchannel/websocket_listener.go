package wspchannel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/jpillora/requestlog"

	"github.com/sammck-go/wspipe/pkg/asyncobj"
	"github.com/sammck-go/wspipe/pkg/logger"
)

// WebSocketListener is an HTTP server that accepts exactly one WebSocket peer. Once a
// peer has been accepted every further upgrade request is answered with 409 Conflict.
// Plain HTTP requests to /health and /version are answered; everything else is 404.
type WebSocketListener struct {
	asyncobj.Helper
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	version  string
	attached atomic.Bool
	peers    chan *websocket.Conn
}

// NewWebSocketListener creates a WebSocketListener. Call Start to bind it.
func NewWebSocketListener(logger logger.Logger, opts Options) *WebSocketListener {
	l := &WebSocketListener{
		server:  &http.Server{},
		version: opts.Version,
		peers:   make(chan *websocket.Conn, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   opts.ReadBufferSize,
			WriteBufferSize:  opts.ReadBufferSize,
			HandshakeTimeout: opts.WSHandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	l.InitHelper(logger, l)
	return l
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (l *WebSocketListener) HandleOnceShutdown(completionErr error) error {
	if l.listener != nil {
		// Hijacked WebSocket connections are not affected
		if err := l.server.Close(); err != nil {
			l.DLogf("close of listener failed, ignoring: %s", err)
		}
	}
	select {
	case conn := <-l.peers:
		conn.Close()
	default:
	}
	return completionErr
}

// Start binds addr and begins serving in the background. The listener shuts down if ctx is cancelled.
func (l *WebSocketListener) Start(ctx context.Context, addr string) error {
	return l.DoOnceActivate(
		func() error {
			l.ShutdownOnContext(ctx)
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return l.DLogErrorf("listen failed: %s", err)
			}
			l.listener = ln

			var h http.Handler = l
			if l.GetLogLevel() >= logger.LogLevelDebug {
				opts := requestlog.DefaultOptions
				opts.Writer = &logWriter{l.Logger}
				h = requestlog.WrapWith(h, opts)
			}
			l.server.Handler = h

			go func() {
				err := l.server.Serve(ln)
				if errors.Is(err, http.ErrServerClosed) {
					err = nil
				}
				l.StartShutdown(err)
			}()
			l.ILogf("listening on %s", ln.Addr())
			return nil
		},
		true,
	)
}

func (l *WebSocketListener) String() string {
	if l.listener == nil {
		return "WebSocketListener"
	}
	return "WebSocketListener(" + l.listener.Addr().String() + ")"
}

// Addr returns the bound address. Only valid after Start succeeds.
func (l *WebSocketListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept blocks until the single peer has completed the WebSocket handshake
func (l *WebSocketListener) Accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-l.peers:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ShutdownStartedChan():
		return nil, ErrClosed
	}
}

// ServeHTTP is the HTTP handler for the listener
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
		if !l.attached.CompareAndSwap(false, true) {
			l.ILogf("rejecting second peer from %s; a peer is already attached", r.RemoteAddr)
			http.Error(w, "a peer is already attached", http.StatusConflict)
			return
		}
		conn, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client
			l.DLogf("failed to upgrade to websocket: %s", err)
			l.attached.Store(false)
			return
		}
		l.DLogf("accepted peer %s, URL=\"%s\"", r.RemoteAddr, r.URL)
		l.peers <- conn
		return
	}

	switch r.URL.Path {
	case "/health":
		w.Write([]byte("OK\n"))
		return
	case "/version":
		w.Write([]byte(l.version))
		return
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}

// logWriter adapts request log lines to the debug log
type logWriter struct {
	logger logger.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.DLogf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
