// Package wspchannel provides a uniform, chunk-oriented view of the transports that
// wspipe can relay between: standard input/output, UDP sockets and WebSocket
// connections.
//
// A ChannelDescriptor is the immutable, parsed form of one command-line endpoint
// token. It names the transport Kind, the connection Role (client dials, server
// binds or accepts) and the Direction the endpoint plays in a relay (the single
// source, or one of the sinks).
//
// A Connector turns a ChannelDescriptor into a live Channel. Client descriptors are
// dialed, UDP sources are bound, and WebSocket servers listen until exactly one peer
// has connected. A failed first attempt is retried once before a ConnectionError is
// returned.
//
// A Channel moves data as Chunks. Every Chunk carries a Boundary tag that is fixed by
// the kind of channel that produced it:
//
//	Kind        Read returns                          Write sends
//	stdio       an arbitrary slice of stdin           raw bytes to stdout, flushed
//	            (Unbounded)                           immediately; boundaries are lost
//	udp         exactly one datagram (Datagram)       exactly one datagram, or
//	                                                  PayloadTooLarge
//	websocket   exactly one message (Frame)           exactly one message
//
// Channels are owned by a single goroutine for reading and a single goroutine for
// writing. Close (or StartShutdown) may be called from anywhere, is idempotent, and
// causes blocked reads and writes to return promptly.
package wspchannel
