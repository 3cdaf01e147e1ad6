package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pcornish/go-tftp/pkg/utils"
)

// Request is an RRQ or WRQ packet, including the option list
// appended by RFC 2347 aware peers.
type Request struct {
	Filename string
	Mode     string
	Options  []Option
	Opcode   OpCode
}

func (r *Request) Op() OpCode { return r.Opcode }

func (r *Request) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	rqLen := 2 + len(r.Filename) + 1 + len(r.Mode) + 1
	for _, opt := range r.Options {
		rqLen += len(opt.Name) + 1 + len(opt.Value) + 1
	}

	b.Grow(rqLen)

	if err := binary.Write(b, binary.BigEndian, &r.Opcode); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := writeCString(b, r.Filename); err != nil {
		return nil, fmt.Errorf("error while writing filename: %w", err)
	}

	if err := writeCString(b, r.Mode); err != nil {
		return nil, fmt.Errorf("error while writing mode: %w", err)
	}

	if err := writeOptions(b, r.Options); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func (r *Request) UnmarshalBinary(data []byte) error {
	var err error

	rd := bytes.NewBuffer(data)

	err = binary.Read(rd, binary.BigEndian, &r.Opcode)
	if err != nil {
		return fmt.Errorf("error while decoding opcode: %w", err)
	}

	if r.Opcode != OpCodeRRQ && r.Opcode != OpCodeWRQ {
		return utils.ErrWrongOpCode
	}

	r.Filename, err = readCString(rd)
	if err != nil {
		return fmt.Errorf("error while decoding filename: %w", err)
	}

	if len(r.Filename) == 0 {
		return utils.ErrMalformedPacket
	}

	r.Mode, err = readCString(rd)
	if err != nil {
		return fmt.Errorf("error while decoding mode: %w", err)
	}

	r.Options, err = readOptions(rd)
	if err != nil {
		return err
	}

	return nil
}

func writeCString(b *bytes.Buffer, s string) error {
	if _, err := b.WriteString(s); err != nil {
		return err
	}

	return b.WriteByte(0)
}

// readCString consumes one NUL terminated string. A string running
// into the end of the buffer is a framing violation.
func readCString(b *bytes.Buffer) (string, error) {
	s, err := b.ReadString(0)
	if err != nil {
		return "", utils.ErrMalformedPacket
	}

	s = strings.TrimRight(s, string(byte(0)))

	if !validText(s) {
		return "", utils.ErrMalformedPacket
	}

	return s, nil
}

func validText(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}

	return true
}

func writeOptions(b *bytes.Buffer, opts []Option) error {
	for _, opt := range opts {
		if err := writeCString(b, opt.Name); err != nil {
			return fmt.Errorf("error while writing option name: %w", err)
		}

		if err := writeCString(b, opt.Value); err != nil {
			return fmt.Errorf("error while writing option value: %w", err)
		}
	}

	return nil
}

// readOptions consumes name/value pairs until the buffer is empty. A
// name without a terminated value is a framing violation.
func readOptions(b *bytes.Buffer) ([]Option, error) {
	var opts []Option

	for b.Len() > 0 {
		name, err := readCString(b)
		if err != nil {
			return nil, fmt.Errorf("error while decoding option name: %w", err)
		}

		value, err := readCString(b)
		if err != nil {
			return nil, fmt.Errorf("error while decoding option value: %w", err)
		}

		opts = append(opts, Option{Name: name, Value: value})
	}

	return opts, nil
}
