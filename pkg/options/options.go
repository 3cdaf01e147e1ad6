// Package options negotiates the RFC 2347 option list of a transfer
// into an effective, immutable profile. Negotiation is deliberately
// permissive: unknown options are dropped, out-of-range values are
// clamped into their legal range and the last occurrence of a
// duplicated option wins. Tightening any of this would reject peers
// that interoperate fine with other servers.
package options

import (
	"strconv"
	"time"

	"github.com/pcornish/go-tftp/pkg/types"
)

const (
	MinBlockSize = types.MinPayloadSize
	MaxBlockSize = types.MaxPayloadSize

	MinWindowSize = 1
	MaxWindowSize = 65535

	// RFC 2349 limits the timeout option to 1..255 seconds.
	MinTimeoutSecs = 1
	MaxTimeoutSecs = 255

	DefaultRetries = 5
)

// SizeUnknown is passed to Negotiate by the side that does not know
// the transfer size in advance. That side adopts the peer-reported
// tsize; the side that knows the size reports it back instead.
const SizeUnknown int64 = -1

// Profile holds the effective parameters of one transfer. A Profile
// starts from the RFC 1350 defaults and is adjusted once by
// Negotiate; after that it is never mutated.
type Profile struct {
	BlockSize    uint16
	WindowSize   uint16
	Timeout      time.Duration
	Retries      int
	TransferSize *uint64

	acked []types.Option
}

// Defaults returns the classic RFC 1350 profile: 512 byte blocks, a
// window of one and a conservative fixed timeout.
func Defaults() *Profile {
	return &Profile{
		BlockSize:  types.DefaultPayloadSize,
		WindowSize: 1,
		Timeout:    types.DefaultClientTimeout * time.Second,
		Retries:    DefaultRetries,
	}
}

// Negotiate applies a requested option list to the profile in a
// single pass, in request order. fileSize is the local size of the
// file being sent, or SizeUnknown when this side is receiving.
//
// Negotiation never fails: unrecognized names and unparseable values
// are ignored, recognized values are clamped into range.
func (p *Profile) Negotiate(requested []types.Option, fileSize int64) {
	for _, opt := range requested {
		value, err := strconv.ParseUint(opt.Value, 10, 64)
		if err != nil {
			continue
		}

		switch opt.Name {
		case types.OptionBlockSize:
			p.BlockSize = uint16(clamp(value, MinBlockSize, MaxBlockSize))
			p.ack(opt.Name, uint64(p.BlockSize))
		case types.OptionWindowSize:
			p.WindowSize = uint16(clamp(value, MinWindowSize, MaxWindowSize))
			p.ack(opt.Name, uint64(p.WindowSize))
		case types.OptionTimeout:
			secs := clamp(value, MinTimeoutSecs, MaxTimeoutSecs)
			p.Timeout = time.Duration(secs) * time.Second
			p.ack(opt.Name, secs)
		case types.OptionTransferSize:
			size := value
			if fileSize >= 0 {
				// We know the file: report the actual size
				// back, whatever the peer asked for.
				size = uint64(fileSize)
			}

			p.TransferSize = &size
			p.ack(opt.Name, size)
		}
	}
}

// RequiresOack reports whether at least one requested option was
// recognized. Without one the responder skips the OACK and proceeds
// straight to ACK 0 or the first DATA block, exactly as classic TFTP.
func (p *Profile) RequiresOack() bool {
	return len(p.acked) > 0
}

// Acknowledged returns the option list to echo in an OACK: every
// recognized option with its effective, possibly clamped value.
func (p *Profile) Acknowledged() []types.Option {
	return p.acked
}

// ack records an accepted option, replacing an earlier occurrence of
// the same name so duplicates collapse to the last value.
func (p *Profile) ack(name string, value uint64) {
	rendered := strconv.FormatUint(value, 10)

	for i := range p.acked {
		if p.acked[i].Name == name {
			p.acked[i].Value = rendered

			return
		}
	}

	p.acked = append(p.acked, types.Option{Name: name, Value: rendered})
}

func clamp(v, min, max uint64) uint64 {
	if v < min {
		return min
	}

	if v > max {
		return max
	}

	return v
}
