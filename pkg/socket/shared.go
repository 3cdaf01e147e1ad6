package socket

import (
	"fmt"
	"net"
	"time"

	"github.com/pcornish/go-tftp/pkg/utils"
)

// Shared is one transfer's slice of the single listening socket
// (single-port server mode). The dispatcher routes incoming datagrams
// to the per-peer channel, so a worker only ever sees traffic from
// its own registered peer; sends go out through the shared packet
// conn addressed to that peer.
type Shared struct {
	pc      net.PacketConn
	peer    net.Addr
	in      <-chan []byte
	release func()
}

func NewShared(pc net.PacketConn, peer net.Addr, in <-chan []byte, release func()) *Shared {
	return &Shared{pc: pc, peer: peer, in: in, release: release}
}

func (s *Shared) Send(b []byte) error {
	if _, err := s.pc.WriteTo(b, s.peer); err != nil {
		return fmt.Errorf("error while writing datagram: %w", err)
	}

	return nil
}

func (s *Shared) Recv(timeout time.Duration) ([]byte, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b, ok := <-s.in:
		if !ok {
			return nil, nil, net.ErrClosed
		}

		return b, s.peer, nil
	case <-timer.C:
		return nil, nil, utils.ErrTimeout
	}
}

func (s *Shared) RemoteAddr() net.Addr {
	return s.peer
}

// Close deregisters the peer from the dispatcher. The underlying
// listening socket stays open, it belongs to the server.
func (s *Shared) Close() error {
	if s.release != nil {
		s.release()
		s.release = nil
	}

	return nil
}
