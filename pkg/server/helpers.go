package server

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/pcornish/go-tftp/pkg/socket"
	"github.com/pcornish/go-tftp/pkg/types"
)

func sendErrorPacket(sock socket.Socket, code types.ErrCode, msg string) error {
	errPacket := &types.Error{
		Opcode:    types.OpCodeError,
		ErrorCode: code,
		ErrMsg:    msg,
	}

	b, err := errPacket.MarshalBinary()
	if err != nil {
		return fmt.Errorf("error while marshal error packet: %w", err)
	}

	if err := sock.Send(b); err != nil {
		return fmt.Errorf("error while sending error packet: %w", err)
	}

	return nil
}

type control func(network, address string, c syscall.RawConn) error

func reusePort() control {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error

		err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}

		return opErr
	}
}
