package wspchannel

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint tokens accepted on the command line:
//
//	TOKEN                        AS SOURCE                  AS SINK
//	stdin                        read standard input        (invalid)
//	stdout                       (invalid)                  write standard output
//	-                            read standard input        write standard output
//	ws://host[:port][/path]      WebSocket client           WebSocket client
//	wss://host[:port][/path]     WebSocket client (TLS)     WebSocket client (TLS)
//	http:// https://             same as ws:// and wss://
//	ws+listen://[host]:port      WebSocket server           WebSocket server
//	udp://[host]:port            UDP bind                   UDP send to host:port
//	[host]:port                  UDP bind                   WebSocket server
//
// IPv6 literals must be bracketed, e.g. [::1]:9000.

// PortNumber is an IP port number in the range 0-65535. 0 is defined as UnknownPortNumber;
// when binding it requests an ephemeral port.
type PortNumber uint16

// UnknownPortNumber is an unknown port number. The zero value for PortNumber
const UnknownPortNumber PortNumber = 0

// ParsePortNumber converts a string to a PortNumber
func ParsePortNumber(s string) (PortNumber, error) {
	p64, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return UnknownPortNumber, fmt.Errorf("invalid port number '%s'", s)
	}
	return PortNumber(uint16(p64)), nil
}

func (x PortNumber) String() string {
	if x == UnknownPortNumber {
		return "<unknown>"
	}
	return strconv.FormatUint(uint64(x), 10)
}

// ParseHostPort breaks a <hostname>:<port> into a tuple. The hostname may be empty
// (meaning all interfaces when binding) and may be a bracketed IPv6 literal such as
// [2001:0000:3238:DFE1:0063:0000:0000:FEFB]:80. The port is required.
func ParseHostPort(path string) (string, PortNumber, error) {
	host, portStr, err := net.SplitHostPort(path)
	if err != nil {
		return "", UnknownPortNumber, fmt.Errorf("invalid <host>:<port> '%s': %w", path, err)
	}
	if portStr == "" {
		return "", UnknownPortNumber, fmt.Errorf("missing port number in '%s'", path)
	}
	port, err := ParsePortNumber(portStr)
	if err != nil {
		return "", UnknownPortNumber, fmt.Errorf("invalid port in '%s': %w", path, err)
	}
	return host, port, nil
}

// parseSchemePrefix parses a scheme prefix from the front of a string.
// If the string has a <scheme>:// prefix, returns the lowercased scheme and the remainder after the "//".
// If the string does not have a scheme prefix, returns an empty string and the original string.
// Schemes consist of a-z, A-Z, 0-9 and '+', and must start with a letter.
func parseSchemePrefix(s string) (scheme string, rest string) {
	for i, c := range s {
		if c == ':' {
			if i < 1 || !strings.HasPrefix(s[i+1:], "//") {
				return "", s
			}
			return strings.ToLower(s[:i]), s[i+3:]
		} else if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		} else if (c >= '0' && c <= '9') || c == '+' {
			if i == 0 {
				return "", s
			}
		} else {
			return "", s
		}
	}
	return "", s
}

// ParseDescriptor converts one endpoint token into a validated ChannelDescriptor for the
// given direction.
func ParseDescriptor(token string, dir Direction) (ChannelDescriptor, error) {
	d := ChannelDescriptor{Direction: dir, Token: token}
	if dir != DirectionSource && dir != DirectionSink {
		return d, fmt.Errorf("unknown direction '%s'", dir)
	}
	if token == "" {
		return d, fmt.Errorf("empty %s endpoint", dir)
	}

	switch token {
	case "-":
		d.Kind, d.Role = KindStdio, RoleNone
		return d, nil
	case "stdin":
		if dir != DirectionSource {
			return d, fmt.Errorf("'stdin' cannot be used as a sink")
		}
		d.Kind, d.Role = KindStdio, RoleNone
		return d, nil
	case "stdout":
		if dir != DirectionSink {
			return d, fmt.Errorf("'stdout' cannot be used as the source")
		}
		d.Kind, d.Role = KindStdio, RoleNone
		return d, nil
	}

	scheme, rest := parseSchemePrefix(token)
	switch scheme {
	case "":
		d.Address = token
		if dir == DirectionSource {
			d.Kind, d.Role = KindUDP, RoleServer
		} else {
			d.Kind, d.Role = KindWebSocket, RoleServer
		}
	case "ws", "wss", "http", "https":
		u, err := url.Parse(token)
		if err != nil {
			return d, fmt.Errorf("invalid websocket URL '%s': %w", token, err)
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		d.Kind, d.Role, d.Address = KindWebSocket, RoleClient, u.String()
	case "ws+listen":
		d.Kind, d.Role, d.Address = KindWebSocket, RoleServer, strings.TrimSuffix(rest, "/")
	case "udp":
		d.Kind, d.Address = KindUDP, strings.TrimSuffix(rest, "/")
		if dir == DirectionSource {
			d.Role = RoleServer
		} else {
			d.Role = RoleClient
		}
	default:
		return d, fmt.Errorf("unsupported endpoint scheme '%s' in '%s'", scheme, token)
	}

	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

// ParseArgs converts a command-line argument list into a source descriptor and one or
// more sink descriptors. The first argument is the source; the rest are sinks, in order.
func ParseArgs(args []string) (ChannelDescriptor, []ChannelDescriptor, error) {
	if len(args) < 2 {
		return ChannelDescriptor{}, nil, fmt.Errorf("need a source and at least one sink, got %d endpoint(s)", len(args))
	}
	source, err := ParseDescriptor(args[0], DirectionSource)
	if err != nil {
		return ChannelDescriptor{}, nil, fmt.Errorf("source: %w", err)
	}
	sinks := make([]ChannelDescriptor, 0, len(args)-1)
	haveStdout := false
	for i, arg := range args[1:] {
		sink, err := ParseDescriptor(arg, DirectionSink)
		if err != nil {
			return ChannelDescriptor{}, nil, fmt.Errorf("sink %d: %w", i+1, err)
		}
		if sink.Kind == KindStdio {
			if haveStdout {
				return ChannelDescriptor{}, nil, fmt.Errorf("sink %d: standard output may only be used once", i+1)
			}
			haveStdout = true
		}
		sinks = append(sinks, sink)
	}
	return source, sinks, nil
}
