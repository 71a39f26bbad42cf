package wspchannel

import (
	"fmt"
	"net/url"
)

// Kind is the transport used by an endpoint
type Kind string

const (
	// KindUnknown is an unknown (uninitialized) endpoint kind
	KindUnknown Kind = ""

	// KindStdio is the process's standard input (as a source) or standard output (as a sink)
	KindStdio Kind = "stdio"

	// KindUDP is a UDP socket. A source binds a local address and receives datagrams;
	// a sink sends datagrams to a remote address.
	KindUDP Kind = "udp"

	// KindWebSocket is a single WebSocket connection, either dialed (client) or
	// accepted from exactly one peer (server)
	KindWebSocket Kind = "websocket"
)

// Role describes how the connection for an endpoint is established
type Role string

const (
	// RoleNone applies to stdio, which has no connection to establish
	RoleNone Role = "n/a"

	// RoleClient dials a remote address
	RoleClient Role = "client"

	// RoleServer binds or listens on a local address
	RoleServer Role = "server"
)

// Direction is the part an endpoint plays in a relay
type Direction string

const (
	// DirectionSource is the single endpoint chunks are read from
	DirectionSource Direction = "source"

	// DirectionSink is an endpoint chunks are written to
	DirectionSink Direction = "sink"
)

// ChannelDescriptor describes one relay endpoint. It is created once, by parsing a
// command-line token, and never modified afterwards.
type ChannelDescriptor struct {
	// Kind is the transport (stdio, udp or websocket)
	Kind Kind `json:"kind"`

	// Role is how the connection is established (client, server, or n/a for stdio)
	Role Role `json:"role"`

	// Direction is source or sink
	Direction Direction `json:"direction"`

	// Address depends on kind and role:
	//
	//     KIND        ROLE     ADDRESS
	//     stdio       n/a      empty
	//     udp         server   <bind-host>:<port>
	//     udp         client   <host>:<port>
	//     websocket   server   <listen-host>:<port>
	//     websocket   client   ws://... or wss://... URL
	Address string `json:"address"`

	// Token is the text the descriptor was parsed from, for messages
	Token string `json:"token,omitempty"`
}

// Validate checks the internal consistency of a ChannelDescriptor
func (d ChannelDescriptor) Validate() error {
	if d.Direction != DirectionSource && d.Direction != DirectionSink {
		return fmt.Errorf("%s: unknown direction '%s'", d, d.Direction)
	}
	switch d.Kind {
	case KindStdio:
		if d.Role != RoleNone {
			return fmt.Errorf("%s: stdio endpoint cannot have role '%s'", d, d.Role)
		}
		if d.Address != "" {
			return fmt.Errorf("%s: stdio endpoint cannot have an address", d)
		}
	case KindUDP:
		if d.Role != RoleClient && d.Role != RoleServer {
			return fmt.Errorf("%s: udp endpoint requires client or server role", d)
		}
		host, port, err := ParseHostPort(d.Address)
		if err != nil {
			return fmt.Errorf("%s: %w", d, err)
		}
		if d.Role == RoleClient && (host == "" || port == UnknownPortNumber) {
			return fmt.Errorf("%s: udp sink requires a destination host and port", d)
		}
	case KindWebSocket:
		switch d.Role {
		case RoleClient:
			u, err := url.Parse(d.Address)
			if err != nil {
				return fmt.Errorf("%s: invalid websocket URL: %w", d, err)
			}
			if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
				return fmt.Errorf("%s: websocket client requires a ws:// or wss:// URL with a host", d)
			}
		case RoleServer:
			if _, _, err := ParseHostPort(d.Address); err != nil {
				return fmt.Errorf("%s: %w", d, err)
			}
		default:
			return fmt.Errorf("%s: websocket endpoint requires client or server role", d)
		}
	default:
		return fmt.Errorf("%s: unknown endpoint kind '%s'", d, d.Kind)
	}
	return nil
}

func (d ChannelDescriptor) String() string {
	if d.Kind == KindStdio {
		if d.Direction == DirectionSink {
			return "<stdout>"
		}
		return "<stdin>"
	}
	kindName := string(d.Kind)
	if kindName == "" {
		kindName = "unknown"
	}
	if d.Kind == KindWebSocket && d.Role == RoleServer {
		kindName = "websocket-server"
	}
	return "<" + kindName + ":" + d.Address + ">"
}
