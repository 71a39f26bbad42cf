package wsprelay

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sammck-go/wspipe/pkg/logger"
	"github.com/sammck-go/wspipe/pkg/wspchannel"
)

// Opener turns a descriptor into an open channel. *wspchannel.Connector is the
// production implementation.
type Opener interface {
	Open(ctx context.Context, desc wspchannel.ChannelDescriptor) (wspchannel.Channel, error)
}

// Session is one invocation of the relay: it opens the source and every sink
// concurrently, then runs a Router until the relay ends.
type Session struct {
	logger.Logger
	id     string
	cfg    Config
	opener Opener
	clock  clock.Clock
	source wspchannel.ChannelDescriptor
	sinks  []wspchannel.ChannelDescriptor
}

// SessionOption customizes a Session
type SessionOption func(*Session)

// WithOpener replaces the Connector used to open channels
func WithOpener(opener Opener) SessionOption {
	return func(s *Session) { s.opener = opener }
}

// WithClock replaces the clock that drives the router's grace period
func WithClock(c clock.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// NewSession creates a Session. Configuration problems are returned as *UsageError.
func NewSession(
	log logger.Logger,
	cfg Config,
	source wspchannel.ChannelDescriptor,
	sinks []wspchannel.ChannelDescriptor,
	opts ...SessionOption,
) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &UsageError{Err: err}
	}
	if source.Direction != wspchannel.DirectionSource {
		return nil, NewUsageError("%s is not a source", source)
	}
	if len(sinks) == 0 {
		return nil, NewUsageError("at least one sink is required")
	}
	for i, sink := range sinks {
		if sink.Direction != wspchannel.DirectionSink {
			return nil, NewUsageError("endpoint %d (%s) is not a sink", i+1, sink)
		}
	}

	id := uuid.NewString()
	s := &Session{
		Logger: log.Fork("Session(%s)", id[:8]),
		id:     id,
		cfg:    cfg,
		source: source,
		sinks:  sinks,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.opener == nil {
		s.opener = wspchannel.NewConnector(s.Logger, cfg.ChannelOptions())
	}
	return s, nil
}

// ID returns the session's unique identifier
func (s *Session) ID() string {
	return s.id
}

func (s *Session) String() string {
	names := make([]string, len(s.sinks))
	for i, sink := range s.sinks {
		names[i] = sink.String()
	}
	return fmt.Sprintf("%s => [%s]", s.source, strings.Join(names, ", "))
}

// Run opens every channel and relays until the source ends, every sink fails, or ctx is
// cancelled. Cancelling ctx is a graceful shutdown and yields a nil error. A source that
// cannot be opened yields a *wspchannel.ConnectionError, and a relay with no openable
// sink yields ErrNoSinks.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.ILogf("starting %s", s)

	source, sinks, err := s.openAll(ctx)
	if ctx.Err() != nil {
		closeChannels(source, sinks)
		s.ILogf("shutdown requested during startup")
		return &Result{Reason: ReasonShutdown}, nil
	}
	if err != nil {
		closeChannels(source, sinks)
		s.ELogf("source unavailable: %s", err)
		return nil, err
	}
	if len(sinks) == 0 {
		closeChannels(source, nil)
		return nil, ErrNoSinks
	}

	ropts := s.cfg.RouterOptions()
	ropts.Clock = s.clock
	router, err := NewRouter(s.Logger, source, sinks, ropts)
	if err != nil {
		closeChannels(source, sinks)
		return nil, err
	}
	if err := router.Start(); err != nil {
		result, _ := router.Wait()
		return result, err
	}
	router.ShutdownOnContext(ctx)
	return router.Wait()
}

// openAll opens the source and all sinks concurrently. A source failure cancels the
// remaining opens; a sink failure only excludes that sink. Sinks are returned in
// command-line order.
func (s *Session) openAll(ctx context.Context) (wspchannel.Channel, []wspchannel.Channel, error) {
	var source wspchannel.Channel
	opened := make([]wspchannel.Channel, len(s.sinks))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ch, err := s.opener.Open(gctx, s.source)
		if err != nil {
			return err
		}
		source = ch
		return nil
	})
	for i, desc := range s.sinks {
		g.Go(func() error {
			ch, err := s.opener.Open(gctx, desc)
			if err != nil {
				if gctx.Err() == nil {
					s.WLogf("sink %d excluded: %s", i+1, err)
				}
				return nil
			}
			opened[i] = ch
			return nil
		})
	}
	err := g.Wait()

	sinks := make([]wspchannel.Channel, 0, len(opened))
	for _, ch := range opened {
		if ch != nil {
			sinks = append(sinks, ch)
		}
	}
	return source, sinks, err
}

func closeChannels(source wspchannel.Channel, sinks []wspchannel.Channel) {
	if source != nil {
		source.Close()
	}
	for _, ch := range sinks {
		ch.Close()
	}
}
