package transfer

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pcornish/go-tftp/pkg/options"
	"github.com/pcornish/go-tftp/pkg/socket"
	"github.com/pcornish/go-tftp/pkg/types"
	"github.com/pcornish/go-tftp/pkg/utils"
)

// Receiver drives the receiving half of a transfer. Incoming DATA is
// accepted strictly in order; a duplicate or out-of-order block
// re-triggers the ACK of the last accepted block instead of advancing
// state. With a negotiated window size the ACK is emitted once per
// window rather than per block.
type Receiver struct {
	sock    socket.Socket
	l       *zap.SugaredLogger
	profile *options.Profile

	// opening is the raw OACK or ACK 0 datagram that confirmed the
	// request. It is repeated while no DATA has arrived yet, so a
	// lost confirmation does not strand the sender.
	opening []byte

	trace bool
}

func NewReceiver(sock socket.Socket, l *zap.SugaredLogger, profile *options.Profile, opening []byte, trace bool) *Receiver {
	return &Receiver{sock: sock, l: l, profile: profile, opening: opening, trace: trace}
}

// Receive writes incoming blocks to dst until a block shorter than
// the negotiated block size arrives. first carries a DATA packet that
// was already consumed during the request exchange (a server without
// option support answers an RRQ with DATA directly), or nil.
// Returns the number of payload bytes written.
func (r *Receiver) Receive(dst io.Writer, first *types.Data) (uint64, error) {
	var (
		expected uint16 = 1
		sinceAck uint16
		total    uint64
		started  bool
	)

	if first != nil {
		done, err := r.accept(first, dst, &expected, &sinceAck, &total, &started)
		if err != nil || done {
			return total, err
		}
	}

	tries := 0

	for {
		buf, _, err := r.sock.Recv(r.profile.Timeout)
		if err != nil {
			if errors.Is(err, utils.ErrTimeout) {
				tries++
				if tries >= r.profile.Retries {
					return total, utils.ErrMaxRetries
				}

				// Assume our last ACK was lost and repeat it,
				// the sender resends its window in response.
				if err := r.reack(expected-1, started); err != nil {
					return total, err
				}

				continue
			}

			return total, err
		}

		pkt, err := types.Decode(buf)
		if err != nil {
			r.l.Debugf("dropping malformed datagram: %s", err.Error())

			continue
		}

		switch p := pkt.(type) {
		case *types.Data:
			tries = 0

			done, err := r.accept(p, dst, &expected, &sinceAck, &total, &started)
			if err != nil || done {
				return total, err
			}
		case *types.Oack:
			// The peer repeats its OACK when our confirmation got
			// lost; anything later in the transfer is a protocol
			// violation.
			if started {
				return total, fmt.Errorf("%w: OACK after first block", utils.ErrUnexpectedPacket)
			}

			if err := r.reack(expected-1, started); err != nil {
				return total, err
			}
		case *types.Error:
			return total, fmt.Errorf("%w: code %d: %s", utils.ErrPeerAborted, p.ErrorCode, p.ErrMsg)
		default:
			return total, fmt.Errorf("%w: %d while waiting for data", utils.ErrUnexpectedPacket, pkt.Op())
		}
	}
}

// accept handles a single DATA packet and reports whether it was the
// final block of the transfer.
func (r *Receiver) accept(p *types.Data, dst io.Writer, expected, sinceAck *uint16, total *uint64, started *bool) (bool, error) {
	if len(p.Payload) > int(r.profile.BlockSize) {
		return false, fmt.Errorf("%w: block# %d exceeds negotiated block size", utils.ErrUnexpectedPacket, p.BlockNum)
	}

	if p.BlockNum != *expected {
		r.l.Debugf("unexpected block# %d, expected %d", p.BlockNum, *expected)

		// Classic duplicate-ACK recovery: repeat the ACK for the
		// last accepted block, never acknowledge the stray one.
		if err := r.reack(*expected-1, *started); err != nil {
			return false, err
		}

		*sinceAck = 0

		return false, nil
	}

	if _, err := dst.Write(p.Payload); err != nil {
		return false, fmt.Errorf("error while writing block to file: %w", err)
	}

	*total += uint64(len(p.Payload))
	*started = true

	if r.trace {
		r.l.Debugf("received block#=%d, received #bytes=%d", p.BlockNum, len(p.Payload))
	}

	final := len(p.Payload) < int(r.profile.BlockSize)
	*sinceAck++

	if final || *sinceAck >= r.profile.WindowSize {
		if err := r.sendAck(*expected); err != nil {
			return false, err
		}

		*sinceAck = 0
	}

	*expected++

	return final, nil
}

// reack repeats the acknowledgment the peer apparently missed: the
// opening OACK/ACK 0 while the transfer has not started, a plain ACK
// afterwards.
func (r *Receiver) reack(blockNum uint16, started bool) error {
	if !started && r.opening != nil {
		if err := r.sock.Send(r.opening); err != nil {
			r.l.Errorf("error while resending opening ack: %s", err.Error())

			return utils.ErrPacketCanNotBeSent
		}

		return nil
	}

	return r.sendAck(blockNum)
}

func (r *Receiver) sendAck(blockNum uint16) error {
	ack := &types.Ack{
		Opcode:   types.OpCodeACK,
		BlockNum: blockNum,
	}

	b, err := ack.MarshalBinary()
	if err != nil {
		r.l.Error(err.Error())

		return utils.ErrPacketMarshall
	}

	if err := r.sock.Send(b); err != nil {
		r.l.Errorf("error while writing ack packet: %s", err.Error())

		return utils.ErrPacketCanNotBeSent
	}

	return nil
}
