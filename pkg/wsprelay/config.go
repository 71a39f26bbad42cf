package wsprelay

import (
	"fmt"
	"time"

	"github.com/sammck-go/wspipe/pkg/logger"
	"github.com/sammck-go/wspipe/pkg/wspchannel"
)

// Config holds every tunable of a relay session. Field tags match the command-line
// flag names so the struct can be filled directly from viper.
type Config struct {
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`

	// QueueDepth is the capacity, in chunks, of each sink's queue
	QueueDepth int `mapstructure:"queue-depth"`

	// GracePeriod bounds how long sinks may keep draining after the source ends
	GracePeriod time.Duration `mapstructure:"grace-period"`

	ReadBufferSize     int           `mapstructure:"read-buffer"`
	UDPMaxDatagram     int           `mapstructure:"udp-max-datagram"`
	StdinFraming       string        `mapstructure:"stdin-framing"`
	WSMessageType      string        `mapstructure:"ws-message-type"`
	WSWriteTimeout     time.Duration `mapstructure:"ws-write-timeout"`
	WSHandshakeTimeout time.Duration `mapstructure:"ws-handshake-timeout"`
	WSKeepAlive        time.Duration `mapstructure:"ws-keepalive"`
	RetryDelay         time.Duration `mapstructure:"retry-delay"`

	// Version is reported by WebSocket listeners; it is set by the build, not by flags
	Version string `mapstructure:"-"`
}

// DefaultQueueDepth is the default per-sink queue capacity
const DefaultQueueDepth = 64

// DefaultGracePeriod is the default drain time after the source ends
const DefaultGracePeriod = 2 * time.Second

// DefaultConfig returns a Config with every field set to its default
func DefaultConfig() Config {
	opts := wspchannel.DefaultOptions()
	return Config{
		LogLevel:           "info",
		LogFormat:          "console",
		QueueDepth:         DefaultQueueDepth,
		GracePeriod:        DefaultGracePeriod,
		ReadBufferSize:     opts.ReadBufferSize,
		UDPMaxDatagram:     opts.MaxDatagramSize,
		StdinFraming:       string(opts.StdinFraming),
		WSMessageType:      string(opts.WSMessageType),
		WSWriteTimeout:     opts.WSWriteTimeout,
		WSHandshakeTimeout: opts.WSHandshakeTimeout,
		WSKeepAlive:        opts.WSKeepAlive,
		RetryDelay:         opts.RetryDelay,
		Version:            opts.Version,
	}
}

// Validate checks the configuration for usage errors
func (c Config) Validate() error {
	var lvl logger.LogLevel
	if err := lvl.FromString(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level '%s'", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format '%s' (want console or json)", c.LogFormat)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("queue depth must be at least 1, got %d", c.QueueDepth)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace period cannot be negative")
	}
	return c.ChannelOptions().Validate()
}

// ChannelOptions extracts the options used to open channels
func (c Config) ChannelOptions() wspchannel.Options {
	opts := wspchannel.DefaultOptions()
	opts.ReadBufferSize = c.ReadBufferSize
	opts.MaxDatagramSize = c.UDPMaxDatagram
	opts.StdinFraming = wspchannel.StdinFraming(c.StdinFraming)
	opts.WSMessageType = wspchannel.MessageType(c.WSMessageType)
	opts.WSWriteTimeout = c.WSWriteTimeout
	opts.WSHandshakeTimeout = c.WSHandshakeTimeout
	opts.WSKeepAlive = c.WSKeepAlive
	opts.RetryDelay = c.RetryDelay
	if c.Version != "" {
		opts.Version = c.Version
	}
	return opts
}

// RouterOptions extracts the options used by the Router
func (c Config) RouterOptions() RouterOptions {
	return RouterOptions{
		QueueDepth:  c.QueueDepth,
		GracePeriod: c.GracePeriod,
	}
}
