// Package transfer implements the windowed DATA/ACK exchange both
// sides of a transfer run after negotiation: the server worker on an
// accepted request and the client on its own request.
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
	"github.com/pcornish/go-tftp/pkg/window"
)

// Sender drives the sending half of a transfer: fill the window, send
// every buffered block, wait for the window's ACK, clear and refill.
// A timeout resends the whole window, up to the profile's retry
// limit. Block numbers wrap at 65536; transfers longer than 65535
// blocks rely on that wraparound.
type Sender struct {
	sock    socket.Socket
	l       *zap.SugaredLogger
	profile *options.Profile
	trace   bool
}

func NewSender(sock socket.Socket, l *zap.SugaredLogger, profile *options.Profile, trace bool) *Sender {
	return &Sender{sock: sock, l: l, profile: profile, trace: trace}
}

// Send transmits src block by block until a short block signals the
// end. A source dividing evenly by the block size is terminated with
// one explicit empty DATA block, carried inside the final window so
// the receiver acknowledges it without waiting for a timeout. Returns
// the number of payload bytes acknowledged by the peer.
func (s *Sender) Send(src io.Reader) (uint64, error) {
	win := window.New(s.profile.WindowSize, s.profile.BlockSize, src)

	var (
		blockNum uint16
		total    uint64
	)

	for {
		more, err := win.Fill()
		if err != nil {
			return total, err
		}

		blocks := win.Elements()

		// RFC 1350 ends a transfer on a block strictly shorter than
		// the block size. An evenly divided (or empty) source gets an
		// explicit empty terminal block appended to its last window.
		if !more && lastBlockFull(blocks, int(s.profile.BlockSize)) {
			blocks = append(blocks, []byte{})
		}

		if len(blocks) > 0 {
			if err := s.sendWindow(blockNum+1, blocks); err != nil {
				return total, err
			}

			for _, b := range blocks {
				total += uint64(len(b))
			}

			blockNum += uint16(len(blocks))
			win.Clear()
		}

		if !more {
			return total, nil
		}
	}
}

// lastBlockFull reports whether the buffered window still lacks the
// short block that terminates a transfer.
func lastBlockFull(blocks [][]byte, blockSize int) bool {
	if len(blocks) == 0 {
		return true
	}

	return len(blocks[len(blocks)-1]) == blockSize
}

// sendWindow transmits one window of blocks numbered from first and
// waits for an ACK of any block inside it. A stale ACK from an
// earlier window resends the whole window.
func (s *Sender) sendWindow(first uint16, blocks [][]byte) error {
	for i := s.profile.Retries; i > 0; i-- {
		num := first

		for _, block := range blocks {
			data := &types.Data{
				Opcode:   types.OpCodeDATA,
				BlockNum: num,
				Payload:  block,
			}

			b, err := data.MarshalBinary()
			if err != nil {
				s.l.Error(err.Error())

				return utils.ErrPacketMarshall
			}

			if err := s.sock.Send(b); err != nil {
				s.l.Errorf("error while writing data packet: %s", err.Error())

				return utils.ErrPacketCanNotBeSent
			}

			if s.trace {
				s.l.Debugf("sent block#=%d, sent #bytes=%d", num, len(block))
			}

			num++
		}

		buf, _, err := s.sock.Recv(s.profile.Timeout)
		if err != nil {
			if errors.Is(err, utils.ErrTimeout) {
				s.l.Debugf("timeout waiting for ack of window starting at block# %d", first)

				continue
			}

			return err
		}

		pkt, err := types.Decode(buf)
		if err != nil {
			s.l.Debugf("dropping malformed datagram: %s", err.Error())

			continue
		}

		switch p := pkt.(type) {
		case *types.Ack:
			// Any ACK inside the window clears the whole window,
			// even for a block before the last one; selective
			// retransmission of missing blocks is not attempted.
			// The offset comparison is modulo 65536 on purpose, a
			// window may straddle the wraparound.
			if offset := p.BlockNum - first; int(offset) >= len(blocks) {
				s.l.Debugf("stale ack block# %d outside window starting at block# %d", p.BlockNum, first)

				continue
			}

			return nil
		case *types.Error:
			return fmt.Errorf("%w: code %d: %s", utils.ErrPeerAborted, p.ErrorCode, p.ErrMsg)
		default:
			return fmt.Errorf("%w: %d while waiting for ack", utils.ErrUnexpectedPacket, pkt.Op())
		}
	}

	return utils.ErrMaxRetries
}
