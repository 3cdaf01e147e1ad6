package transfer_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pcornish/go-tftp/pkg/options"
	"github.com/pcornish/go-tftp/pkg/socket"
	"github.com/pcornish/go-tftp/pkg/transfer"
	"github.com/pcornish/go-tftp/pkg/types"
	"github.com/pcornish/go-tftp/pkg/utils"
)

// pipeSocket is an in-memory Socket half; two cross-wired halves form
// a lossless bidirectional link.
type pipeSocket struct {
	in  <-chan []byte
	out chan<- []byte
}

func newPipe() (*pipeSocket, *pipeSocket) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)

	return &pipeSocket{in: ba, out: ab}, &pipeSocket{in: ab, out: ba}
}

func (p *pipeSocket) Send(b []byte) error {
	p.out <- append([]byte(nil), b...)

	return nil
}

func (p *pipeSocket) Recv(timeout time.Duration) ([]byte, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b := <-p.in:
		return b, nil, nil
	case <-timer.C:
		return nil, nil, utils.ErrTimeout
	}
}

func (p *pipeSocket) RemoteAddr() net.Addr { return nil }

func (p *pipeSocket) Close() error { return nil }

// sendCounter counts outgoing datagrams on top of another Socket.
type sendCounter struct {
	socket.Socket
	n int
}

func (c *sendCounter) Send(b []byte) error {
	c.n++

	return c.Socket.Send(b)
}

// scriptSocket replies with a fixed sequence of datagrams and records
// everything sent through it; once the script runs out every Recv
// times out.
type scriptSocket struct {
	replies [][]byte
	sent    [][]byte
}

func (s *scriptSocket) Send(b []byte) error {
	s.sent = append(s.sent, append([]byte(nil), b...))

	return nil
}

func (s *scriptSocket) Recv(time.Duration) ([]byte, net.Addr, error) {
	if len(s.replies) == 0 {
		return nil, nil, utils.ErrTimeout
	}

	b := s.replies[0]
	s.replies = s.replies[1:]

	return b, nil, nil
}

func (s *scriptSocket) RemoteAddr() net.Addr { return nil }

func (s *scriptSocket) Close() error { return nil }

func mustMarshal(t *testing.T, pkt types.Packet) []byte {
	t.Helper()

	b, err := pkt.MarshalBinary()
	require.NoError(t, err)

	return b
}

func testProfile(blockSize, windowSize uint16) *options.Profile {
	prof := options.Defaults()
	prof.BlockSize = blockSize
	prof.WindowSize = windowSize
	prof.Timeout = time.Second
	prof.Retries = 3

	return prof
}

// runTransfer wires a Sender and a Receiver over an in-memory pipe and
// returns the bytes that arrived.
func runTransfer(t *testing.T, payload []byte, prof *options.Profile, senderSock, receiverSock socket.Socket) []byte {
	t.Helper()

	l := zap.NewNop().Sugar()

	sendErr := make(chan error, 1)
	sent := make(chan uint64, 1)

	go func() {
		n, err := transfer.NewSender(senderSock, l, prof, false).Send(bytes.NewReader(payload))
		sent <- n
		sendErr <- err
	}()

	var dst bytes.Buffer

	received, err := transfer.NewReceiver(receiverSock, l, prof, nil, false).Receive(&dst, nil)
	require.NoError(t, err)

	require.NoError(t, <-sendErr)
	assert.Equal(t, uint64(len(payload)), <-sent)
	assert.Equal(t, uint64(len(payload)), received)

	return dst.Bytes()
}

func TestTransferSmall(t *testing.T) {
	a, b := newPipe()
	payload := []byte("hello, transfer")

	got := runTransfer(t, payload, testProfile(512, 1), a, b)
	assert.Equal(t, payload, got)
}

func TestTransferExactMultipleEndsWithEmptyBlock(t *testing.T) {
	a, b := newPipe()
	counter := &sendCounter{Socket: a}
	payload := bytes.Repeat([]byte{0x42}, 1024)

	got := runTransfer(t, payload, testProfile(512, 1), counter, b)
	assert.Equal(t, payload, got)

	// Two full blocks plus the empty terminal one.
	assert.Equal(t, 3, counter.n)
}

func TestTransferExactMultipleWindowed(t *testing.T) {
	a, b := newPipe()
	counter := &sendCounter{Socket: a}

	// Six full blocks with a window of four: the final window holds
	// two full blocks plus the empty terminal one, so the receiver
	// acknowledges it immediately instead of waiting for a timeout.
	payload := bytes.Repeat([]byte{0x17}, 24)

	got := runTransfer(t, payload, testProfile(4, 4), counter, b)
	assert.Equal(t, payload, got)
	assert.Equal(t, 7, counter.n)
}

func TestTransferEmptyFile(t *testing.T) {
	a, b := newPipe()
	counter := &sendCounter{Socket: a}

	got := runTransfer(t, nil, testProfile(512, 1), counter, b)
	assert.Empty(t, got)
	assert.Equal(t, 1, counter.n)
}

func TestTransferWindowedAckPerWindow(t *testing.T) {
	a, b := newPipe()
	acks := &sendCounter{Socket: b}
	payload := []byte("abcdefghijklmnopqr")

	got := runTransfer(t, payload, testProfile(4, 4), a, acks)
	assert.Equal(t, payload, got)

	// 18 bytes in 4 byte blocks: one full window of four, then the
	// short final block. One ACK each.
	assert.Equal(t, 2, acks.n)
}

func TestTransferBlockNumberWraparound(t *testing.T) {
	a, b := newPipe()

	// More than 65535 blocks of 8 bytes, so the counter wraps.
	payload := bytes.Repeat([]byte{0x31}, 65537*8+3)

	got := runTransfer(t, payload, testProfile(8, 64), a, b)
	assert.Equal(t, payload, got)
}

func TestSenderMaxRetriesOnSilentPeer(t *testing.T) {
	sock := &scriptSocket{}
	prof := testProfile(512, 1)

	_, err := transfer.NewSender(sock, zap.NewNop().Sugar(), prof, false).Send(bytes.NewReader([]byte("abc")))
	require.ErrorIs(t, err, utils.ErrMaxRetries)

	// One DATA per attempt.
	assert.Len(t, sock.sent, prof.Retries)
}

func sentBlockNums(t *testing.T, sent [][]byte) []uint16 {
	t.Helper()

	blockNums := make([]uint16, 0, len(sent))

	for _, raw := range sent {
		pkt, err := types.Decode(raw)
		require.NoError(t, err)

		data, ok := pkt.(*types.Data)
		require.True(t, ok)

		blockNums = append(blockNums, data.BlockNum)
	}

	return blockNums
}

func TestSenderAnyInWindowAckClearsWindow(t *testing.T) {
	// The ACK for block 1 only covers half the window [1,2], yet it
	// clears the whole window; nothing is resent.
	sock := &scriptSocket{
		replies: [][]byte{
			mustMarshal(t, &types.Ack{Opcode: types.OpCodeACK, BlockNum: 1}),
			mustMarshal(t, &types.Ack{Opcode: types.OpCodeACK, BlockNum: 3}),
		},
	}

	n, err := transfer.NewSender(sock, zap.NewNop().Sugar(), testProfile(4, 2), false).Send(bytes.NewReader([]byte("abcdefgh")))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)
	assert.Equal(t, []uint16{1, 2, 3}, sentBlockNums(t, sock.sent))
}

func TestSenderProgressesAgainstPerBlockAcks(t *testing.T) {
	// A peer that acknowledges every DATA packet must never cost the
	// sender a retry, even with a single attempt per window.
	sock := &scriptSocket{
		replies: [][]byte{
			mustMarshal(t, &types.Ack{Opcode: types.OpCodeACK, BlockNum: 1}),
			mustMarshal(t, &types.Ack{Opcode: types.OpCodeACK, BlockNum: 3}),
		},
	}

	prof := testProfile(4, 2)
	prof.Retries = 1

	n, err := transfer.NewSender(sock, zap.NewNop().Sugar(), prof, false).Send(bytes.NewReader([]byte("abcdefgh")))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)
}

func TestSenderStaleAckResendsWindow(t *testing.T) {
	// ACK 0 predates the window [1,2] and must not clear it.
	sock := &scriptSocket{
		replies: [][]byte{
			mustMarshal(t, &types.Ack{Opcode: types.OpCodeACK, BlockNum: 0}),
			mustMarshal(t, &types.Ack{Opcode: types.OpCodeACK, BlockNum: 2}),
			mustMarshal(t, &types.Ack{Opcode: types.OpCodeACK, BlockNum: 3}),
		},
	}

	n, err := transfer.NewSender(sock, zap.NewNop().Sugar(), testProfile(4, 2), false).Send(bytes.NewReader([]byte("abcdefgh")))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)
	assert.Equal(t, []uint16{1, 2, 1, 2, 3}, sentBlockNums(t, sock.sent))
}

func TestSenderStopsOnPeerError(t *testing.T) {
	sock := &scriptSocket{
		replies: [][]byte{
			mustMarshal(t, &types.Error{
				Opcode:    types.OpCodeError,
				ErrorCode: types.ErrDiskFull,
				ErrMsg:    "disk full",
			}),
		},
	}

	_, err := transfer.NewSender(sock, zap.NewNop().Sugar(), testProfile(512, 1), false).Send(bytes.NewReader([]byte("abc")))
	require.ErrorIs(t, err, utils.ErrPeerAborted)
}

func TestReceiverMaxRetriesOnSilentPeer(t *testing.T) {
	sock := &scriptSocket{}

	var dst bytes.Buffer

	_, err := transfer.NewReceiver(sock, zap.NewNop().Sugar(), testProfile(512, 1), nil, false).Receive(&dst, nil)
	require.ErrorIs(t, err, utils.ErrMaxRetries)
}

func TestReceiverDuplicateDataWrittenOnce(t *testing.T) {
	first := mustMarshal(t, &types.Data{Opcode: types.OpCodeDATA, BlockNum: 1, Payload: []byte("abcd")})

	sock := &scriptSocket{
		replies: [][]byte{
			first,
			first,
			mustMarshal(t, &types.Data{Opcode: types.OpCodeDATA, BlockNum: 2, Payload: []byte("xy")}),
		},
	}

	var dst bytes.Buffer

	n, err := transfer.NewReceiver(sock, zap.NewNop().Sugar(), testProfile(4, 1), nil, false).Receive(&dst, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)
	assert.Equal(t, "abcdxy", dst.String())

	// ACK 1, repeated ACK 1 for the duplicate, then the final ACK 2.
	blockNums := make([]uint16, 0, len(sock.sent))

	for _, raw := range sock.sent {
		pkt, err := types.Decode(raw)
		require.NoError(t, err)

		ack, ok := pkt.(*types.Ack)
		require.True(t, ok)

		blockNums = append(blockNums, ack.BlockNum)
	}

	assert.Equal(t, []uint16{1, 1, 2}, blockNums)
}

func TestReceiverResendsOpeningBeforeFirstBlock(t *testing.T) {
	opening := mustMarshal(t, &types.Oack{
		Opcode:  types.OpCodeOACK,
		Options: []types.Option{{Name: types.OptionBlockSize, Value: "4"}},
	})

	sock := &scriptSocket{
		replies: [][]byte{
			// The peer never saw the OACK and repeats nothing; the
			// first timeout must repeat the opening datagram.
		},
	}

	var dst bytes.Buffer

	_, err := transfer.NewReceiver(sock, zap.NewNop().Sugar(), testProfile(4, 1), opening, false).Receive(&dst, nil)
	require.ErrorIs(t, err, utils.ErrMaxRetries)

	require.Len(t, sock.sent, 2)
	assert.Equal(t, opening, sock.sent[0])
	assert.Equal(t, opening, sock.sent[1])
}

func TestReceiverRejectsOversizedBlock(t *testing.T) {
	sock := &scriptSocket{
		replies: [][]byte{
			mustMarshal(t, &types.Data{Opcode: types.OpCodeDATA, BlockNum: 1, Payload: []byte("too big for four")}),
		},
	}

	var dst bytes.Buffer

	_, err := transfer.NewReceiver(sock, zap.NewNop().Sugar(), testProfile(4, 1), nil, false).Receive(&dst, nil)
	require.ErrorIs(t, err, utils.ErrUnexpectedPacket)
	assert.Zero(t, dst.Len())
}

func TestReceiverConsumesPrefetchedFirstBlock(t *testing.T) {
	sock := &scriptSocket{
		replies: [][]byte{
			mustMarshal(t, &types.Data{Opcode: types.OpCodeDATA, BlockNum: 2, Payload: []byte("c")}),
		},
	}

	first := &types.Data{Opcode: types.OpCodeDATA, BlockNum: 1, Payload: []byte("ab")}

	var dst bytes.Buffer

	n, err := transfer.NewReceiver(sock, zap.NewNop().Sugar(), testProfile(2, 1), nil, false).Receive(&dst, first)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	assert.Equal(t, "abc", dst.String())
}
