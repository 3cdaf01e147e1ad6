package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pcornish/go-tftp/pkg/socket"
	"github.com/pcornish/go-tftp/pkg/types"
	"github.com/pcornish/go-tftp/pkg/utils"
)

// Server accepts RRQ/WRQ datagrams on the well-known port, applies
// filesystem policy and spawns one Worker per accepted transfer. It
// keeps no per-transfer state beyond the single-port routing table;
// every Worker runs to completion independently.
type Server struct {
	cfg    *Config
	logger *zap.SugaredLogger
	conn   net.PacketConn

	mu        sync.Mutex
	transfers map[string]chan []byte
	inflight  map[string]struct{}
}

func NewServer(l *zap.SugaredLogger, cfg *Config) *Server {
	return &Server{
		cfg:       cfg,
		logger:    l,
		transfers: make(map[string]chan []byte),
		inflight:  make(map[string]struct{}),
	}
}

// Listen binds the request socket. Split from Serve so callers can
// learn the bound address before serving.
func (s *Server) Listen() error {
	lc := net.ListenConfig{
		Control: reusePort(),
	}

	conn, err := lc.ListenPacket(context.Background(),
		"udp", net.JoinHostPort(s.cfg.Address, s.cfg.Port))
	if err != nil {
		s.logger.Error(err.Error())

		return utils.ErrStartingServer
	}

	s.conn = conn

	return nil
}

// Addr returns the bound listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// Serve runs the dispatch loop: one datagram per iteration, routed to
// a running transfer in single-port mode or handed to a fresh handler
// goroutine.
func (s *Server) Serve() error {
	datagram := make([]byte, types.MaxDatagramSize)

	for {
		n, addr, err := s.conn.ReadFrom(datagram)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return err
		}

		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, datagram[:n])

		if s.route(addr, data) {
			continue
		}

		go s.handleRequest(addr, data)
	}
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve()
}

func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("error while closing connection: %w", err)
	}

	return nil
}

// route hands a datagram to the transfer registered for its source
// address. A full worker channel drops the datagram, which is what
// UDP would have done anyway.
func (s *Server) route(addr net.Addr, data []byte) bool {
	s.mu.Lock()
	ch, ok := s.transfers[addr.String()]
	s.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- data:
	default:
		s.logger.Debugf("dropping datagram from %s: transfer busy", addr)
	}

	return true
}

// claim marks the peer address as having a request in flight.
func (s *Server) claim(addr net.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	if _, ok := s.inflight[key]; ok {
		return false
	}

	s.inflight[key] = struct{}{}

	return true
}

func (s *Server) release(addr net.Addr) {
	s.mu.Lock()
	delete(s.inflight, addr.String())
	s.mu.Unlock()
}

// register claims the peer address for one transfer and returns its
// slice of the listening socket.
func (s *Server) register(addr net.Addr) *socket.Shared {
	ch := make(chan []byte, 64)
	key := addr.String()

	s.mu.Lock()
	s.transfers[key] = ch
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.transfers, key)
		s.mu.Unlock()
	}

	return socket.NewShared(s.conn, addr, ch, release)
}

// handleRequest validates one datagram from an unknown peer. Anything
// that is not a well-formed RRQ or WRQ is dropped silently; DATA, ACK
// and ERROR belong on an established transfer's socket, not on the
// listener.
func (s *Server) handleRequest(addr net.Addr, data []byte) {
	pkt, err := types.Decode(data)
	if err != nil {
		s.logger.Debugf("dropping malformed datagram from %s: %s", addr, err.Error())

		return
	}

	req, ok := pkt.(*types.Request)
	if !ok {
		s.logger.Debugf("dropping %d from %s: only requests are accepted on the listener", pkt.Op(), addr)

		return
	}

	// A client that missed our reply retransmits its request from the
	// same source port; a second worker for it would answer from a
	// second TID and race the first.
	if !s.claim(addr) {
		s.logger.Debugf("dropping retransmitted request from %s: transfer already in flight", addr)

		return
	}

	defer s.release(addr)

	// The mode field is case-insensitive on the wire.
	if !strings.EqualFold(req.Mode, types.ModeOctet) {
		s.reject(addr, types.ErrNotDefined, fmt.Sprintf("transfer mode %q not supported", req.Mode))

		return
	}

	if req.Opcode == types.OpCodeWRQ && s.cfg.ReadOnly {
		s.logger.Infof("rejecting wrq for %s from %s: server is read-only", req.Filename, addr)
		s.reject(addr, types.ErrAccessViolation, "server is read-only")

		return
	}

	path, ok := s.resolve(req)
	if !ok {
		s.logger.Infof("rejecting %s from %s: path escapes served root", req.Filename, addr)
		s.reject(addr, types.ErrAccessViolation, "access violation")

		return
	}

	sock, err := s.transferSocket(addr)
	if err != nil {
		s.logger.Errorf("error while opening transfer socket for %s: %s", addr, err.Error())

		return
	}

	w := newWorker(sock, s.logger, s.cfg)

	switch req.Opcode {
	case types.OpCodeRRQ:
		w.serveRead(req, path)
	case types.OpCodeWRQ:
		w.serveWrite(req, path)
	}
}

// resolve maps the requested filename into the served directory,
// denying paths that escape it.
func (s *Server) resolve(req *types.Request) (string, bool) {
	if !filepath.IsLocal(req.Filename) {
		return "", false
	}

	dir := s.cfg.SendDir
	if req.Opcode == types.OpCodeWRQ {
		dir = s.cfg.ReceiveDir
	}

	return filepath.Join(dir, filepath.Clean(req.Filename)), true
}

// transferSocket picks the socket flavor for a new transfer: the
// shared listener in single-port mode, a freshly bound ephemeral
// socket otherwise.
func (s *Server) transferSocket(addr net.Addr) (socket.Socket, error) {
	if s.cfg.SinglePort {
		return s.register(addr), nil
	}

	return socket.Dial(addr)
}

// reject answers an invalid request straight from the listening
// socket; no transfer was established so there is no TID yet.
func (s *Server) reject(addr net.Addr, code types.ErrCode, msg string) {
	errPacket := &types.Error{
		Opcode:    types.OpCodeError,
		ErrorCode: code,
		ErrMsg:    msg,
	}

	b, err := errPacket.MarshalBinary()
	if err != nil {
		s.logger.Error(err.Error())

		return
	}

	if _, err := s.conn.WriteTo(b, addr); err != nil {
		s.logger.Errorf("error while rejecting request from %s: %s", addr, err.Error())
	}
}
