package wspchannel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/sammck-go/wspipe/pkg/logger"
)

// Connector turns descriptors into open channels. A failed attempt is retried
// Options.ConnectRetries times (once by default), pausing Options.RetryDelay between attempts.
type Connector struct {
	logger.Logger
	opts Options

	// Stdin is the stream used by stdio sources
	Stdin io.ReadCloser

	// Stdout is the stream used by stdio sinks
	Stdout io.WriteCloser
}

// NewConnector creates a Connector that uses the process's standard input and output
func NewConnector(logger logger.Logger, opts Options) *Connector {
	return &Connector{
		Logger: logger,
		opts:   opts,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
	}
}

// maxRetryBackoff caps the retry delay, as a multiple of Options.RetryDelay
const maxRetryBackoff = 8

// Open establishes a channel for desc. For a WebSocket server this blocks until a peer
// connects or ctx is done. Failures are returned as a *ConnectionError.
func (c *Connector) Open(ctx context.Context, desc ChannelDescriptor) (Channel, error) {
	if err := desc.Validate(); err != nil {
		return nil, &ConnectionError{Descriptor: desc, Attempts: 0, Err: err}
	}
	b := &backoff.Backoff{Min: c.opts.RetryDelay, Max: maxRetryBackoff * c.opts.RetryDelay, Factor: 2}
	maxAttempts := c.opts.ConnectRetries + 1
	for attempt := 1; ; attempt++ {
		ch, err := c.openOnce(ctx, desc)
		if err == nil {
			return ch, nil
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			return nil, &ConnectionError{Descriptor: desc, Attempts: attempt, Err: err}
		}
		d := b.Duration()
		msg := fmt.Sprintf("%s: connection error: %s (Attempt: %d/%d)", desc, err, attempt, maxAttempts)
		if c.opts.RetryDelay > 0 {
			msg += fmt.Sprintf("; retrying in %s", d)
		}
		c.WLogf("%s", msg)
		if c.opts.RetryDelay > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, &ConnectionError{Descriptor: desc, Attempts: attempt, Err: ctx.Err()}
			}
		}
	}
}

func (c *Connector) openOnce(ctx context.Context, desc ChannelDescriptor) (Channel, error) {
	switch desc.Kind {
	case KindStdio:
		return NewStdioChannel(c.Logger, desc, c.Stdin, c.Stdout, c.opts)
	case KindUDP:
		if desc.Role == RoleServer {
			return ListenUDPChannel(c.Logger, desc, c.opts)
		}
		return DialUDPChannel(c.Logger, desc, c.opts)
	case KindWebSocket:
		if desc.Role == RoleServer {
			return c.acceptWebSocket(ctx, desc)
		}
		return c.dialWebSocket(ctx, desc)
	}
	return nil, fmt.Errorf("unsupported endpoint kind '%s'", desc.Kind)
}

func (c *Connector) dialWebSocket(ctx context.Context, desc ChannelDescriptor) (Channel, error) {
	d := websocket.Dialer{
		ReadBufferSize:   c.opts.ReadBufferSize,
		WriteBufferSize:  c.opts.ReadBufferSize,
		HandshakeTimeout: c.opts.WSHandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := d.DialContext(ctx, desc.Address, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with HTTP %s: %w", resp.Status, err)
		}
		return nil, err
	}
	ch, err := NewWebSocketChannel(c.Logger, desc, conn, c.opts)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Connector) acceptWebSocket(ctx context.Context, desc ChannelDescriptor) (Channel, error) {
	l := NewWebSocketListener(c.Logger.Fork("%s", desc), c.opts)
	// The listener outlives ctx; it is shut down with the channel that owns its peer
	if err := l.Start(context.WithoutCancel(ctx), desc.Address); err != nil {
		return nil, err
	}
	conn, err := l.Accept(ctx)
	if err != nil {
		l.Close()
		return nil, err
	}
	ch, err := NewWebSocketChannel(c.Logger, desc, conn, c.opts)
	if err != nil {
		l.Close()
		return nil, err
	}
	// The listener keeps turning away further peers until the channel closes
	ch.AddShutdownChild(l)
	return ch, nil
}
