package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pcornish/go-tftp/pkg/utils"
)

// Oack acknowledges the options a responder accepted (RFC 2347).
type Oack struct {
	Options []Option
	Opcode  OpCode
}

func (o *Oack) Op() OpCode { return o.Opcode }

func (o *Oack) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	oackLen := 2
	for _, opt := range o.Options {
		oackLen += len(opt.Name) + 1 + len(opt.Value) + 1
	}

	b.Grow(oackLen)

	if err := binary.Write(b, binary.BigEndian, &o.Opcode); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := writeOptions(b, o.Options); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func (o *Oack) UnmarshalBinary(data []byte) error {
	var err error

	b := bytes.NewBuffer(data)

	if err = binary.Read(b, binary.BigEndian, &o.Opcode); err != nil {
		return fmt.Errorf("error while reading opcode: %w", err)
	}

	if o.Opcode != OpCodeOACK {
		return utils.ErrWrongOpCode
	}

	o.Options, err = readOptions(b)
	if err != nil {
		return err
	}

	return nil
}
