package socket

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pcornish/go-tftp/pkg/types"
	"github.com/pcornish/go-tftp/pkg/utils"
)

// Conn is a point-to-point socket bound to one peer for the duration
// of one transfer. The server uses it in multi-port mode, where every
// accepted transfer gets a freshly bound ephemeral port and the
// kernel demultiplexes by address.
type Conn struct {
	conn net.Conn
}

// Dial binds a fresh ephemeral UDP socket connected to addr.
func Dial(addr net.Addr) (*Conn, error) {
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("error while dialing %s: %w", addr, err)
	}

	return &Conn{conn: conn}, nil
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

func (c *Conn) Send(b []byte) error {
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("error while writing datagram: %w", err)
	}

	return nil
}

func (c *Conn) Recv(timeout time.Duration) ([]byte, net.Addr, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("error while setting read timeout: %w", err)
	}

	datagram := make([]byte, types.MaxDatagramSize)

	n, err := c.conn.Read(datagram)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, utils.ErrTimeout
		}

		return nil, nil, fmt.Errorf("error while reading datagram: %w", err)
	}

	return datagram[:n], c.conn.RemoteAddr(), nil
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("error while closing connection: %w", err)
	}

	return nil
}
