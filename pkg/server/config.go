package server

import (
	"time"

	"github.com/pcornish/go-tftp/pkg/options"
)

// Config is the server's externally supplied surface: where to
// listen, which directories to serve, and the policy knobs applied to
// every request.
type Config struct {
	// Address is the IP to listen on, Port the well-known request
	// port (69 needs privileges, tests bind 0).
	Address string
	Port    string

	// ReceiveDir stores uploaded files, SendDir serves downloads.
	// They are usually the same directory.
	ReceiveDir string
	SendDir    string

	// SinglePort keeps every transfer on the listening socket,
	// demultiplexed by peer address, instead of binding a fresh
	// ephemeral port per transfer. Useful behind NAT.
	SinglePort bool

	// ReadOnly rejects every WRQ with an access violation.
	ReadOnly bool

	// Overwrite permits a WRQ to replace an existing file.
	Overwrite bool

	// MaxFileSize rejects a WRQ whose announced tsize exceeds it.
	// Zero means unlimited.
	MaxFileSize int64

	Retries int
	Timeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Address:   "0.0.0.0",
		Port:      "69",
		Retries:   options.DefaultRetries,
		Timeout:   5 * time.Second,
		Overwrite: true,
	}
}
