// Package udp provides the UDP datagram channels of the transport.
//
// Two modes exist. Dial opens a connected socket toward a fixed peer; the
// sender uses it for data+feedback, and a receiver configured with a separate
// signal path uses it for acks. Listen binds a socket that learns its peer
// from the first arriving datagram and answers to it, which is how a receiver
// serves acks over a single socket.
package udp

import (
	"errors"
	"net"
	"sync"
	"time"

	golrtp "github.com/fountaincode/golrtp"
	"github.com/fountaincode/golrtp/pkg/channel"
)

// Reads poll with a short deadline so the transport phases stay bounded
// instead of blocking on an idle socket.
const pollDeadline = 100 * time.Microsecond

var ErrNoPeer = errors.New("udp: peer address not learned yet")

func init() {
	channel.Register("udp", func(address string) (golrtp.Channel, error) { return Dial(address) })
	channel.Register("udp-listen", func(address string) (golrtp.Channel, error) { return Listen(address) })
}

// Conn is a golrtp.Channel over a UDP socket.
type Conn struct {
	conn      *net.UDPConn
	connected bool

	mu   sync.Mutex
	peer *net.UDPAddr // learned remote, listener mode only
}

// Dial opens a connected UDP channel toward address.
func Dial(address string) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn, connected: true}, nil
}

// Listen binds a UDP channel on address. The peer is learned from the first
// datagram received and all sends go back to it.
func Listen(address string) (*Conn, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

func (c *Conn) Send(buf []byte) error {
	if c.connected {
		_, err := c.conn.Write(buf)
		return mapErr(err)
	}
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return ErrNoPeer
	}
	_, err := c.conn.WriteToUDP(buf, peer)
	return mapErr(err)
}

func (c *Conn) Recv(buf []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, mapErr(err)
	}
	if c.connected {
		n, err := c.conn.Read(buf)
		return n, mapErr(err)
	}
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, mapErr(err)
	}
	c.mu.Lock()
	c.peer = addr
	c.mu.Unlock()
	return n, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the bound address, useful when listening on port 0.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return golrtp.ErrNoData
	}
	if errors.Is(err, net.ErrClosed) {
		return golrtp.ErrChannelClosed
	}
	return err
}
