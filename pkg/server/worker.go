package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/pcornish/go-tftp/pkg/options"
	"github.com/pcornish/go-tftp/pkg/socket"
	"github.com/pcornish/go-tftp/pkg/transfer"
	"github.com/pcornish/go-tftp/pkg/types"
	"github.com/pcornish/go-tftp/pkg/utils"
)

// Worker owns one transfer end to end: option negotiation, the
// windowed DATA/ACK exchange and retry handling. Workers share no
// mutable state with each other; in single-port mode they share the
// listening socket through address-keyed demultiplexing only.
type Worker struct {
	sock socket.Socket
	l    *zap.SugaredLogger
	cfg  *Config
}

func newWorker(sock socket.Socket, l *zap.SugaredLogger, cfg *Config) *Worker {
	return &Worker{sock: sock, l: l, cfg: cfg}
}

// serveRead handles an accepted RRQ: negotiate, confirm options if
// any were requested, then stream the file.
func (w *Worker) serveRead(req *types.Request, path string) {
	defer w.close()

	f, err := os.Open(path)
	if err != nil {
		w.l.Infof("rejecting rrq for %s from %s: %s", req.Filename, w.sock.RemoteAddr(), err.Error())
		w.abortOpen(err, req.Filename)

		return
	}

	defer func() {
		if err := f.Close(); err != nil {
			w.l.Errorf("error while closing file: %s", err.Error())
		}
	}()

	info, err := f.Stat()
	if err != nil {
		w.l.Errorf("error while checking file: %s", err.Error())
		w.abort(types.ErrNotDefined, "file not readable")

		return
	}

	prof := w.profile()
	prof.Negotiate(req.Options, info.Size())

	if prof.RequiresOack() {
		if err := w.confirmOptions(prof); err != nil {
			w.l.Errorf("error while confirming options with %s: %s", w.sock.RemoteAddr(), err.Error())

			return
		}
	}

	snd := transfer.NewSender(w.sock, w.l, prof, true)

	n, err := snd.Send(f)
	if err != nil {
		w.l.Errorf("error while sending %s to %s: %s", req.Filename, w.sock.RemoteAddr(), err.Error())

		if errors.Is(err, utils.ErrUnexpectedPacket) {
			w.abort(types.ErrIllegalTftpOp, "illegal operation for transfer state")
		} else if isLocalFailure(err) {
			w.abort(types.ErrNotDefined, "transfer failed")
		}

		return
	}

	w.l.Infof("sent %s (%d bytes) to %s", req.Filename, n, w.sock.RemoteAddr())
}

// serveWrite handles an accepted WRQ: negotiate, apply the size
// limit, confirm with OACK or ACK 0, then collect the file.
func (w *Worker) serveWrite(req *types.Request, path string) {
	defer w.close()

	prof := w.profile()
	prof.Negotiate(req.Options, options.SizeUnknown)

	if ts := prof.TransferSize; ts != nil && w.cfg.MaxFileSize > 0 && *ts > uint64(w.cfg.MaxFileSize) {
		w.l.Infof("rejecting wrq for %s from %s: announced size %d exceeds limit", req.Filename, w.sock.RemoteAddr(), *ts)
		w.abort(types.ErrDiskFull, "file too large")

		return
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !w.cfg.Overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		w.l.Infof("rejecting wrq for %s from %s: %s", req.Filename, w.sock.RemoteAddr(), err.Error())
		w.abortOpen(err, req.Filename)

		return
	}

	opening, err := w.openingAck(prof)
	if err != nil {
		w.l.Error(err.Error())

		return
	}

	if err := w.sock.Send(opening); err != nil {
		w.l.Errorf("error while acknowledging wrq: %s", err.Error())

		return
	}

	rcv := transfer.NewReceiver(w.sock, w.l, prof, opening, true)

	n, err := rcv.Receive(f, nil)

	if errClose := f.Close(); errClose != nil {
		w.l.Errorf("error while closing file: %s", errClose.Error())
	}

	if err != nil {
		w.l.Errorf("error while receiving %s from %s: %s", req.Filename, w.sock.RemoteAddr(), err.Error())

		// Drop the partial upload, transfers are not resumable.
		if errRm := os.Remove(path); errRm != nil {
			w.l.Errorf("error while removing partial file: %s", errRm.Error())
		}

		if errors.Is(err, utils.ErrUnexpectedPacket) {
			w.abort(types.ErrIllegalTftpOp, "illegal operation for transfer state")
		} else if isLocalFailure(err) {
			w.abort(types.ErrDiskFull, "write failed")
		}

		return
	}

	w.l.Infof("received %s (%d bytes) from %s", req.Filename, n, w.sock.RemoteAddr())
}

// confirmOptions sends the OACK for an RRQ and waits for the client's
// ACK 0, resending on timeout up to the retry limit.
func (w *Worker) confirmOptions(prof *options.Profile) error {
	oack := &types.Oack{
		Opcode:  types.OpCodeOACK,
		Options: prof.Acknowledged(),
	}

	b, err := oack.MarshalBinary()
	if err != nil {
		w.l.Error(err.Error())

		return utils.ErrPacketMarshall
	}

	for i := prof.Retries; i > 0; i-- {
		if err := w.sock.Send(b); err != nil {
			w.l.Errorf("error while writing oack packet: %s", err.Error())

			return utils.ErrPacketCanNotBeSent
		}

		buf, _, err := w.sock.Recv(prof.Timeout)
		if err != nil {
			if errors.Is(err, utils.ErrTimeout) {
				w.l.Debug("timeout waiting for ack of oack")

				continue
			}

			return err
		}

		pkt, err := types.Decode(buf)
		if err != nil {
			w.l.Debugf("dropping malformed datagram: %s", err.Error())

			continue
		}

		switch p := pkt.(type) {
		case *types.Ack:
			if p.BlockNum != 0 {
				w.l.Debugf("ack block# %d != expected block# 0", p.BlockNum)

				continue
			}

			return nil
		case *types.Error:
			return fmt.Errorf("%w: code %d: %s", utils.ErrPeerAborted, p.ErrorCode, p.ErrMsg)
		default:
			return fmt.Errorf("%w: %d while waiting for ack of oack", utils.ErrUnexpectedPacket, pkt.Op())
		}
	}

	return utils.ErrMaxRetries
}

// openingAck renders the packet confirming a WRQ: an OACK when
// options were accepted, the classic ACK 0 otherwise.
func (w *Worker) openingAck(prof *options.Profile) ([]byte, error) {
	if prof.RequiresOack() {
		oack := &types.Oack{
			Opcode:  types.OpCodeOACK,
			Options: prof.Acknowledged(),
		}

		return oack.MarshalBinary()
	}

	ack := &types.Ack{
		Opcode:   types.OpCodeACK,
		BlockNum: 0,
	}

	return ack.MarshalBinary()
}

func (w *Worker) profile() *options.Profile {
	prof := options.Defaults()
	prof.Timeout = w.cfg.Timeout
	prof.Retries = w.cfg.Retries

	return prof
}

// abortOpen maps a file open failure onto the matching TFTP error
// code before abandoning the transfer.
func (w *Worker) abortOpen(err error, filename string) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.abort(types.ErrFileNotFound, fmt.Sprintf("%s not found", filename))
	case errors.Is(err, fs.ErrExist):
		w.abort(types.ErrFileAlreadyExists, fmt.Sprintf("%s already exists", filename))
	case errors.Is(err, fs.ErrPermission):
		w.abort(types.ErrAccessViolation, "access violation")
	default:
		w.abort(types.ErrNotDefined, "request failed")
	}
}

func (w *Worker) abort(code types.ErrCode, msg string) {
	if err := sendErrorPacket(w.sock, code, msg); err != nil {
		w.l.Error(err.Error())
	}
}

func (w *Worker) close() {
	if err := w.sock.Close(); err != nil {
		w.l.Errorf("error while closing transfer socket: %s", err.Error())
	}
}

// isLocalFailure reports whether the transfer died of a local fault
// the peer should be told about. Peer errors are never acknowledged
// and a peer that stopped answering is not worth another datagram.
func isLocalFailure(err error) bool {
	return !errors.Is(err, utils.ErrPeerAborted) &&
		!errors.Is(err, utils.ErrMaxRetries) &&
		!errors.Is(err, utils.ErrUnexpectedPacket)
}
