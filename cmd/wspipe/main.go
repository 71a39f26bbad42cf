// Command wspipe relays a byte or datagram stream from one source endpoint to any
// number of sink endpoints, where each endpoint is stdio, UDP or WebSocket.
//
//	wspipe [flags] <source> <sink> [<sink>...]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sammck-go/wspipe/pkg/logger"
	"github.com/sammck-go/wspipe/pkg/wspchannel"
	"github.com/sammck-go/wspipe/pkg/wsprelay"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

const envPrefix = "WSPIPE"

const usageHeader = `Usage: wspipe [flags] <source> <sink> [<sink>...]

Endpoints:
  stdin, -                 standard input (source only)
  stdout, -                standard output (sink only)
  ws://host:port/path      WebSocket client (also wss://)
  ws+listen://host:port    WebSocket server accepting a single peer
  udp://host:port          UDP, bound as a source, sent to as a sink
  host:port                UDP server as a source, WebSocket server as a sink

Every flag may also be set with a WSPIPE_ environment variable,
for example WSPIPE_QUEUE_DEPTH=128.

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newFlagSet(stderr io.Writer) *pflag.FlagSet {
	def := wsprelay.DefaultConfig()
	fs := pflag.NewFlagSet("wspipe", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageHeader)
		fs.PrintDefaults()
	}

	fs.String("log-level", def.LogLevel, "log level: error, warning, info, debug or trace")
	fs.String("log-format", def.LogFormat, "log format: console or json")
	fs.String("log-file", def.LogFile, "also write logs to this file, rotated by size")
	fs.Int("queue-depth", def.QueueDepth, "per-sink queue capacity in chunks")
	fs.Duration("grace-period", def.GracePeriod, "how long sinks may drain after the source ends")
	fs.Int("udp-max-datagram", def.UDPMaxDatagram, "largest datagram a UDP sink will send")
	fs.Int("read-buffer", def.ReadBufferSize, "stdin read size in bytes")
	fs.String("stdin-framing", def.StdinFraming, "stdin chunking: raw or lines")
	fs.String("ws-message-type", def.WSMessageType, "WebSocket message type for outbound data: binary or text")
	fs.Duration("ws-write-timeout", def.WSWriteTimeout, "WebSocket write deadline")
	fs.Duration("ws-handshake-timeout", def.WSHandshakeTimeout, "WebSocket dial handshake timeout")
	fs.Duration("ws-keepalive", def.WSKeepAlive, "interval between WebSocket pings (0 disables)")
	fs.Duration("retry-delay", def.RetryDelay, "delay before the single connection retry")
	fs.Bool("version", false, "print the version and exit")
	return fs
}

// loadConfig layers defaults, WSPIPE_ environment variables and flags, in increasing
// precedence, into a Config
func loadConfig(fs *pflag.FlagSet) (wsprelay.Config, error) {
	cfg := wsprelay.DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode configuration: %w", err)
	}
	cfg.Version = Version
	return cfg, nil
}

func newLogger(cfg wsprelay.Config, stderr io.Writer) (logger.Logger, error) {
	var lvl logger.LogLevel
	if err := lvl.FromString(cfg.LogLevel); err != nil {
		return nil, err
	}
	return logger.New(
		logger.WithWriter(stderr),
		logger.WithPrefix("wspipe"),
		logger.WithLogLevel(lvl),
		logger.WithFormat(cfg.LogFormat),
		logger.WithFile(cfg.LogFile),
	)
}

// run executes one wspipe invocation and returns its exit status
func run(ctx context.Context, args []string, stdin io.ReadCloser, stdout io.WriteCloser, stderr io.Writer) int {
	fs := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return wsprelay.ExitOK
		}
		fmt.Fprintf(stderr, "wspipe: %s\n\n", err)
		fs.Usage()
		return wsprelay.ExitUsage
	}
	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "wspipe %s\n", Version)
		return wsprelay.ExitOK
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		fmt.Fprintf(stderr, "wspipe: %s\n", err)
		return wsprelay.ExitUsage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "wspipe: %s\n", err)
		return wsprelay.ExitUsage
	}

	source, sinks, err := wspchannel.ParseArgs(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "wspipe: %s\n\n", err)
		fs.Usage()
		return wsprelay.ExitUsage
	}

	log, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "wspipe: %s\n", err)
		return wsprelay.ExitUsage
	}
	defer log.Sync()

	connector := wspchannel.NewConnector(log, cfg.ChannelOptions())
	connector.Stdin = stdin
	connector.Stdout = stdout

	session, err := wsprelay.NewSession(log, cfg, source, sinks, wsprelay.WithOpener(connector))
	if err != nil {
		log.ELogf("%s", err)
		return wsprelay.ExitCode(err)
	}
	result, err := session.Run(ctx)
	if result != nil {
		log.ILogf("%s", result)
	}
	if err != nil {
		log.ELogf("relay ended: %s", err)
	}
	return wsprelay.ExitCode(err)
}
