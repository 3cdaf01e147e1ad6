package types

import (
	"encoding"
	"encoding/binary"

	"github.com/pcornish/go-tftp/pkg/utils"
)

// Packet is implemented by every TFTP packet kind.
type Packet interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Op() OpCode
}

// Option is a single name/value pair carried by RRQ, WRQ and OACK
// packets. Values are decimal ASCII strings per RFC 2347.
type Option struct {
	Name  string
	Value string
}

// Decode parses a raw datagram into its packet kind. Corrupt or
// truncated input returns an error, it never panics: datagrams arrive
// from the network and are untrusted.
func Decode(datagram []byte) (Packet, error) {
	if len(datagram) < 2 {
		return nil, utils.ErrMalformedPacket
	}

	var p Packet

	switch OpCode(binary.BigEndian.Uint16(datagram)) {
	case OpCodeRRQ, OpCodeWRQ:
		p = &Request{}
	case OpCodeDATA:
		p = &Data{}
	case OpCodeACK:
		p = &Ack{}
	case OpCodeError:
		p = &Error{}
	case OpCodeOACK:
		p = &Oack{}
	default:
		return nil, utils.ErrWrongOpCode
	}

	if err := p.UnmarshalBinary(datagram); err != nil {
		return nil, err
	}

	return p, nil
}
