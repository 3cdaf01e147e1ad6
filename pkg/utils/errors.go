package utils

import "errors"

var (
	ErrStartingServer     = errors.New("error: starting the udp server")
	ErrWrongOpCode        = errors.New("error: invalid operation code")
	ErrMalformedPacket    = errors.New("error: malformed packet")
	ErrDataPayloadTooBig  = errors.New("error: payload exceeds negotiated block size")
	ErrPacketMarshall     = errors.New("error: can not marshall packet")
	ErrPacketCanNotBeSent = errors.New("error: packet can not be sent")
	ErrUnexpectedPacket   = errors.New("error: unexpected packet for transfer state")
	ErrPeerAborted        = errors.New("error: transfer aborted by peer")
	ErrTimeout            = errors.New("error: timed out waiting for packet")
	ErrMaxRetries         = errors.New("error: maximum number of retries reached")
	ErrNotConnected       = errors.New("error: client is not connected")
)
