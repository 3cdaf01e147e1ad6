package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pcornish/go-tftp/pkg/options"
	"github.com/pcornish/go-tftp/pkg/socket"
	"github.com/pcornish/go-tftp/pkg/transfer"
	"github.com/pcornish/go-tftp/pkg/types"
	"github.com/pcornish/go-tftp/pkg/utils"
)

type Connector interface {
	Connect(addr string) error
	Target() string
	Get(remote, local string) error
	Put(local, remote string) error
	SetTimeout(secs uint)
	SetBlockSize(n uint)
	SetWindowSize(n uint)
	SetRetries(n uint)
	SetTrace()
}

// Client drives one transfer at a time as the initiator: it sends the
// request itself, adopts whatever source address the first reply
// carries and then runs the same windowed exchange as a server
// worker.
type Client struct {
	l          *zap.SugaredLogger
	addr       string
	blockSize  uint16
	windowSize uint16
	timeout    time.Duration
	retries    int
	trace      bool
}

func NewClient(l *zap.SugaredLogger) *Client {
	return &Client{
		l:          l,
		blockSize:  types.DefaultPayloadSize,
		windowSize: 1,
		timeout:    types.DefaultClientTimeout * time.Second,
		retries:    options.DefaultRetries,
	}
}

// Connect records the server address after validating it resolves.
// Each Get/Put binds its own local socket, a transfer never reuses
// the previous one's TID.
func (c *Client) Connect(addr string) error {
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return fmt.Errorf("error while resolving %s: %w", addr, err)
	}

	c.addr = addr

	return nil
}

// Target returns the connected server address, empty before Connect.
func (c *Client) Target() string {
	return c.addr
}

func (c *Client) SetTimeout(secs uint) {
	c.timeout = time.Duration(secs) * time.Second
}

func (c *Client) SetBlockSize(n uint) {
	c.blockSize = uint16(clamp(n, options.MinBlockSize, options.MaxBlockSize))
}

func (c *Client) SetWindowSize(n uint) {
	c.windowSize = uint16(clamp(n, options.MinWindowSize, options.MaxWindowSize))
}

func (c *Client) SetRetries(n uint) {
	if n > 0 {
		c.retries = int(n)
	}
}

func (c *Client) SetTrace() {
	c.trace = !c.trace
}

// Get downloads remote into local.
func (c *Client) Get(remote, local string) error {
	if c.addr == "" {
		return utils.ErrNotConnected
	}

	sock, err := socket.DialPeer(c.addr)
	if err != nil {
		return err
	}

	defer func() {
		if err := sock.Close(); err != nil {
			c.l.Error(err.Error())
		}
	}()

	req := &types.Request{
		Opcode:   types.OpCodeRRQ,
		Filename: remote,
		Mode:     types.ModeOctet,
		Options:  c.requestOptions(0),
	}

	resp, err := c.exchange(sock, req)
	if err != nil {
		return err
	}

	prof := c.profile()

	var (
		first   *types.Data
		opening []byte
	)

	switch p := resp.(type) {
	case *types.Oack:
		prof.Negotiate(p.Options, options.SizeUnknown)

		opening, err = ackZero()
		if err != nil {
			return err
		}

		if err := sock.Send(opening); err != nil {
			return err
		}
	case *types.Data:
		// Server without option support: classic RFC 1350, the
		// reply is already the first block.
		if p.BlockNum != 1 {
			return fmt.Errorf("%w: first data block# %d", utils.ErrUnexpectedPacket, p.BlockNum)
		}

		first = p
	case *types.Error:
		return fmt.Errorf("%w: code %d: %s", utils.ErrPeerAborted, p.ErrorCode, p.ErrMsg)
	default:
		return fmt.Errorf("%w: %d in response to rrq", utils.ErrUnexpectedPacket, resp.Op())
	}

	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("error while creating %s: %w", local, err)
	}

	rcv := transfer.NewReceiver(sock, c.l, prof, opening, c.trace)

	n, err := rcv.Receive(f, first)

	if errClose := f.Close(); errClose != nil {
		c.l.Errorf("error while closing file: %s", errClose.Error())
	}

	if err != nil {
		if errRm := os.Remove(local); errRm != nil {
			c.l.Errorf("error while removing partial file: %s", errRm.Error())
		}

		return fmt.Errorf("get %s: %w", remote, err)
	}

	c.l.Infof("received %s (%d bytes)", remote, n)

	return nil
}

// Put uploads local as remote.
func (c *Client) Put(local, remote string) error {
	if c.addr == "" {
		return utils.ErrNotConnected
	}

	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("error while opening %s: %w", local, err)
	}

	defer func() {
		if err := f.Close(); err != nil {
			c.l.Errorf("error while closing file: %s", err.Error())
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("error while checking %s: %w", local, err)
	}

	sock, err := socket.DialPeer(c.addr)
	if err != nil {
		return err
	}

	defer func() {
		if err := sock.Close(); err != nil {
			c.l.Error(err.Error())
		}
	}()

	req := &types.Request{
		Opcode:   types.OpCodeWRQ,
		Filename: remote,
		Mode:     types.ModeOctet,
		Options:  c.requestOptions(uint64(info.Size())),
	}

	resp, err := c.exchange(sock, req)
	if err != nil {
		return err
	}

	prof := c.profile()

	switch p := resp.(type) {
	case *types.Oack:
		prof.Negotiate(p.Options, info.Size())
	case *types.Ack:
		if p.BlockNum != 0 {
			return fmt.Errorf("%w: ack block# %d in response to wrq", utils.ErrUnexpectedPacket, p.BlockNum)
		}
	case *types.Error:
		return fmt.Errorf("%w: code %d: %s", utils.ErrPeerAborted, p.ErrorCode, p.ErrMsg)
	default:
		return fmt.Errorf("%w: %d in response to wrq", utils.ErrUnexpectedPacket, resp.Op())
	}

	snd := transfer.NewSender(sock, c.l, prof, c.trace)

	n, err := snd.Send(f)
	if err != nil {
		return fmt.Errorf("put %s: %w", remote, err)
	}

	c.l.Infof("sent %s (%d bytes)", remote, n)

	return nil
}

// exchange sends the request until a reply arrives, then locks the
// socket onto the reply's source address: servers answer from a fresh
// ephemeral port, not from the well-known one.
func (c *Client) exchange(sock *socket.Peer, req *types.Request) (types.Packet, error) {
	b, err := req.MarshalBinary()
	if err != nil {
		c.l.Error(err.Error())

		return nil, utils.ErrPacketMarshall
	}

	for i := c.retries; i > 0; i-- {
		if err := sock.Send(b); err != nil {
			return nil, err
		}

		buf, from, err := sock.Recv(c.timeout)
		if err != nil {
			if errors.Is(err, utils.ErrTimeout) {
				c.l.Debugf("no response from %s, resending request", c.addr)

				continue
			}

			return nil, err
		}

		pkt, err := types.Decode(buf)
		if err != nil {
			c.l.Debugf("dropping malformed response: %s", err.Error())

			continue
		}

		sock.Retarget(from)

		return pkt, nil
	}

	return nil, utils.ErrMaxRetries
}

// requestOptions renders the client's option list. tsize carries the
// local file size on a write and 0 on a read, asking the server to
// report the size back.
func (c *Client) requestOptions(tsize uint64) []types.Option {
	return []types.Option{
		{Name: types.OptionBlockSize, Value: strconv.FormatUint(uint64(c.blockSize), 10)},
		{Name: types.OptionWindowSize, Value: strconv.FormatUint(uint64(c.windowSize), 10)},
		{Name: types.OptionTimeout, Value: strconv.FormatUint(uint64(c.timeout/time.Second), 10)},
		{Name: types.OptionTransferSize, Value: strconv.FormatUint(tsize, 10)},
	}
}

// profile is the client's base profile before the server's OACK is
// applied: RFC 1350 defaults with the locally configured timeout and
// retry limit.
func (c *Client) profile() *options.Profile {
	prof := options.Defaults()
	prof.Timeout = c.timeout
	prof.Retries = c.retries

	return prof
}

func ackZero() ([]byte, error) {
	ack := &types.Ack{
		Opcode:   types.OpCodeACK,
		BlockNum: 0,
	}

	b, err := ack.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("error while marshalling ack: %w", err)
	}

	return b, nil
}

func clamp(v uint, min, max uint64) uint64 {
	if uint64(v) < min {
		return min
	}

	if uint64(v) > max {
		return max
	}

	return uint64(v)
}
