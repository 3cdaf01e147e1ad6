package types

type OpCode uint16

const (
	OpCodeRRQ OpCode = iota + 1
	OpCodeWRQ
	OpCodeDATA
	OpCodeACK
	OpCodeError
	OpCodeOACK
)

type ErrCode uint16

const (
	ErrNotDefined ErrCode = iota
	ErrFileNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalTftpOp
	ErrUnknownTransferId
	ErrFileAlreadyExists
	ErrNoSuchUser
	ErrOptionNegotiation
)

const (
	ModeOctet = "octet"

	// Option names recognized per RFC 2348, 2349 and 7440.
	OptionBlockSize    = "blksize"
	OptionWindowSize   = "windowsize"
	OptionTimeout      = "timeout"
	OptionTransferSize = "tsize"
)

const (
	DefaultPayloadSize = 512
	MinPayloadSize     = 8
	MaxPayloadSize     = 65464
	// MaxDatagramSize covers a DATA packet carrying the largest
	// negotiable payload.
	MaxDatagramSize = MaxPayloadSize + 4
)

const DefaultClientTimeout = 5
