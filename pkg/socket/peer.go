package socket

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pcornish/go-tftp/pkg/types"
	"github.com/pcornish/go-tftp/pkg/utils"
)

// Peer is the client side socket. It starts out unconnected because a
// TFTP server answers the request from a fresh ephemeral port, not
// from the well-known one: the first reply's source address becomes
// the transfer's peer via Retarget.
type Peer struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	locked bool
}

// DialPeer resolves addr and binds a local ephemeral UDP socket
// pointed at it.
func DialPeer(addr string) (*Peer, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("error while resolving %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("error while binding local socket: %w", err)
	}

	return &Peer{conn: conn, remote: remote}, nil
}

func (p *Peer) Send(b []byte) error {
	if _, err := p.conn.WriteToUDP(b, p.remote); err != nil {
		return fmt.Errorf("error while writing datagram: %w", err)
	}

	return nil
}

// Recv reads one datagram from the peer. Until Retarget locks the
// transfer address, any port on the peer host is accepted; datagrams
// from other hosts are dropped and the read continues within the
// same deadline.
func (p *Peer) Recv(timeout time.Duration) ([]byte, net.Addr, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("error while setting read timeout: %w", err)
	}

	datagram := make([]byte, types.MaxDatagramSize)

	for {
		n, from, err := p.conn.ReadFromUDP(datagram)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, nil, utils.ErrTimeout
			}

			return nil, nil, fmt.Errorf("error while reading datagram: %w", err)
		}

		if !p.accepts(from) {
			continue
		}

		return datagram[:n], from, nil
	}
}

func (p *Peer) accepts(from *net.UDPAddr) bool {
	if !from.IP.Equal(p.remote.IP) {
		return false
	}

	return !p.locked || from.Port == p.remote.Port
}

// Retarget locks the socket to the address the server actually
// answered from.
func (p *Peer) Retarget(addr net.Addr) {
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		p.remote = udpAddr
		p.locked = true
	}
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.remote
}

func (p *Peer) Close() error {
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("error while closing connection: %w", err)
	}

	return nil
}
