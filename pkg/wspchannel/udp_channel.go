package wspchannel

import (
	"errors"
	"net"
	"syscall"

	"github.com/sammck-go/wspipe/pkg/logger"
)

// UDPChannel implements a Channel over a UDP socket. As a source it is bound to a local
// address and returns one datagram per chunk; as a sink it sends one datagram per chunk
// to a fixed remote address.
type UDPChannel struct {
	BasicChannel
	conn        *net.UDPConn
	remoteAddr  *net.UDPAddr
	maxDatagram int
	recvBuf     []byte
}

// ListenUDPChannel binds a UDP source channel to the descriptor's address
func ListenUDPChannel(logger logger.Logger, desc ChannelDescriptor, opts Options) (*UDPChannel, error) {
	laddr, err := net.ResolveUDPAddr("udp", desc.Address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return newUDPChannel(logger, desc, conn, nil, CapReadable, opts)
}

// DialUDPChannel creates a UDP sink channel that sends to the descriptor's address.
// The socket is not connected, so ICMP errors from an absent receiver do not surface
// as write failures.
func DialUDPChannel(logger logger.Logger, desc ChannelDescriptor, opts Options) (*UDPChannel, error) {
	raddr, err := net.ResolveUDPAddr("udp", desc.Address)
	if err != nil {
		return nil, err
	}
	network := "udp4"
	if raddr.IP != nil && raddr.IP.To4() == nil {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, err
	}
	return newUDPChannel(logger, desc, conn, raddr, CapWritable, opts)
}

func newUDPChannel(logger logger.Logger, desc ChannelDescriptor, conn *net.UDPConn, raddr *net.UDPAddr, caps Capability, opts Options) (*UDPChannel, error) {
	c := &UDPChannel{
		conn:        conn,
		remoteAddr:  raddr,
		maxDatagram: opts.MaxDatagramSize,
	}
	if caps.Readable() {
		c.recvBuf = make([]byte, maxUDPReceiveSize)
	}
	c.InitBasicChannel(c, logger, desc, caps)
	if err := c.ActivateOpen(); err != nil {
		conn.Close()
		return nil, err
	}
	c.DLogf("bound to %s", conn.LocalAddr())
	return c, nil
}

// LocalAddr returns the local address of the socket
func (c *UDPChannel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (c *UDPChannel) HandleOnceShutdown(completionErr error) error {
	c.SetFinalState(StateClosed)
	if err := c.conn.Close(); err != nil {
		c.DLogf("close: %s", err)
	}
	return completionErr
}

// ReadChunk returns exactly one received datagram. Zero-length datagrams are returned as
// empty chunks.
func (c *UDPChannel) ReadChunk() (*Chunk, error) {
	if err := c.CheckReadable(); err != nil {
		return nil, err
	}
	n, _, err := c.conn.ReadFromUDP(c.recvBuf)
	if err != nil {
		if c.IsStartedShutdown() || errors.Is(err, net.ErrClosed) {
			return nil, c.EndOfStream()
		}
		return nil, c.Fail(&IOError{Op: "read", Channel: c.String(), Err: err})
	}
	payload := make([]byte, n)
	copy(payload, c.recvBuf[:n])
	c.CountRead(n)
	return NewChunk(payload, BoundaryForKind(c.Kind())), nil
}

// WriteChunk sends the chunk as exactly one datagram
func (c *UDPChannel) WriteChunk(chunk *Chunk) error {
	if err := c.CheckWritable(); err != nil {
		return err
	}
	if chunk.Len() > c.maxDatagram {
		return &PayloadTooLargeError{Size: chunk.Len(), Limit: c.maxDatagram}
	}
	_, err := c.conn.WriteToUDP(chunk.Payload, c.remoteAddr)
	if err != nil {
		if c.IsStartedShutdown() {
			return ErrClosed
		}
		if errors.Is(err, syscall.EMSGSIZE) {
			return &PayloadTooLargeError{Size: chunk.Len(), Limit: c.maxDatagram}
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			c.DLogf("datagram to %s refused; nobody listening", c.remoteAddr)
			return nil
		}
		return c.Fail(&IOError{Op: "write", Channel: c.String(), Err: err})
	}
	c.CountWritten(chunk.Len())
	return nil
}
