// Package server implements the control-session side of the reverse
// forwarder: one Session owns a single controller connection, the
// forward-rule listeners it opened, and the live forwarded connections
// flowing over it.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/imterah/nextnet/internal/allocator"
	"github.com/imterah/nextnet/internal/conf"
	"github.com/imterah/nextnet/internal/flog"
)

// Session is the single owner of one controller socket. All writes to the
// controller go through sendFrame, which serializes them; all reads happen
// on the single goroutine running Run, so no read-side locking is needed.
type Session struct {
	conn   net.Conn
	cfg    *conf.Conf
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu           sync.Mutex
	ids          allocator.IDs
	tcpConns     map[uint32]*tcpConn
	tcpListeners map[uint16]*tcpListener
	udpListeners map[uint16]*udpListener

	closeOnce sync.Once
}

// NewSession wraps an accepted controller connection. cfg may be nil, in
// which case every port is allowed and no deployment-specific limits apply.
func NewSession(ctx context.Context, conn net.Conn, cfg *conf.Conf) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		conn:         conn,
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		tcpConns:     make(map[uint32]*tcpConn),
		tcpListeners: make(map[uint16]*tcpListener),
		udpListeners: make(map[uint16]*udpListener),
	}
}

// Run reads and dispatches frames from the controller until the connection
// fails or is torn down. It blocks until the session ends and always tears
// down every resource the session owns before returning.
func (s *Session) Run() {
	defer s.Close()

	flog.Infof("control session established from %s", s.conn.RemoteAddr())

	for {
		if err := s.dispatchOnce(); err != nil {
			if werr := flog.WErr(err); werr != nil {
				flog.Errorf("control session from %s ended: %v", s.conn.RemoteAddr(), werr)
			} else {
				flog.Debugf("control session from %s closed", s.conn.RemoteAddr())
			}
			return
		}
	}
}

// sendFrame writes a complete, already-encoded frame to the controller.
// Concurrent senders (the dispatcher goroutine and every pump goroutine)
// serialize here so a frame is never split by an interleaved write.
func (s *Session) sendFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(frame)
	return err
}

// Close tears down the session: it stops accepting new forwarded
// connections, closes every listener and live connection this session
// owns, and closes the controller socket. It is idempotent and safe to
// call from multiple goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()

		s.mu.Lock()
		tcpListeners := s.tcpListeners
		udpListeners := s.udpListeners
		tcpConns := s.tcpConns
		s.tcpListeners = make(map[uint16]*tcpListener)
		s.udpListeners = make(map[uint16]*udpListener)
		s.tcpConns = make(map[uint32]*tcpConn)
		s.mu.Unlock()

		for _, tl := range tcpListeners {
			tl.ln.Close()
		}
		for _, ul := range udpListeners {
			ul.conn.Close()
		}
		for _, tc := range tcpConns {
			tc.closeExternal()
		}
	})
}

// registerTCPConn allocates a client id and records the new connection
// atomically, so two pumps racing to accept never collide on the same id.
func (s *Session) registerTCPConn(conn net.Conn, peerIP net.IP, peerPort, listenPort uint16) (*tcpConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ids.Alloc(func(candidate uint32) bool {
		_, live := s.tcpConns[candidate]
		return live
	})
	if err != nil {
		return nil, err
	}

	tc := newTCPConn(id, conn, peerIP, peerPort, listenPort)
	s.tcpConns[id] = tc
	return tc, nil
}

// terminateTCPConn removes clientId from the live set, if still present,
// closes its external socket, and — when sendClose is set — emits exactly
// one TCP_CLOSE_CONNECTION frame for it. Racing callers (the pump noticing
// EOF, the dispatcher acting on a controller command) are safe to call this
// concurrently: only the caller that actually removes the entry from the
// map does any of that work.
func (s *Session) terminateTCPConn(clientID uint32, sendClose bool) {
	s.mu.Lock()
	tc, ok := s.tcpConns[clientID]
	if ok {
		delete(s.tcpConns, clientID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	tc.closeExternal()
	// Wake a pump still blocked waiting for the controller's ack: it will
	// observe the socket already closed and exit on its next read.
	tc.markInitialized()

	if sendClose {
		if err := s.sendFrame(encodeTCPCloseConnection(clientID)); err != nil {
			flog.Debugf("session: failed to send close frame for client %d: %v", clientID, err)
		}
	}
}

func (s *Session) lookupTCPConn(clientID uint32) (*tcpConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.tcpConns[clientID]
	return tc, ok
}

func (s *Session) lookupUDPListener(port uint16) (*udpListener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ul, ok := s.udpListeners[port]
	return ul, ok
}
