// Package socket provides the timed send/receive contract every
// transfer runs on, over either a point-to-point UDP socket or a
// shared listening socket demultiplexed by peer address.
package socket

import (
	"net"
	"time"
)

// Socket is one transfer's view of the network. Recv honors the
// caller supplied timeout and returns utils.ErrTimeout when it
// elapses.
type Socket interface {
	Send(b []byte) error
	Recv(timeout time.Duration) ([]byte, net.Addr, error)
	RemoteAddr() net.Addr
	Close() error
}
