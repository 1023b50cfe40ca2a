package server

import (
	"fmt"
	"net"

	"github.com/imterah/nextnet/internal/flog"
)

// tcpListener is one bound TCP forward rule: the accept loop it drives and
// the port it was opened on (kept so CloseTCP can find every live
// connection spawned from it).
type tcpListener struct {
	port uint16
	ln   net.Listener
}

// udpListener is one bound UDP forward rule.
type udpListener struct {
	port uint16
	conn *net.UDPConn
}

func (s *Session) portAllowed(port uint16) bool {
	if s.cfg == nil {
		return true
	}
	return s.cfg.Ports.Contains(port)
}

// OpenTCP binds a TCP forward rule on port and starts accepting connections
// for it. A second call for a port already open fails, since the OS will
// already refuse the bind.
func (s *Session) OpenTCP(port uint16) error {
	if !s.portAllowed(port) {
		return fmt.Errorf("server: port %d is outside the configured allow-list", port)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	tl := &tcpListener{port: port, ln: ln}

	s.mu.Lock()
	s.tcpListeners[port] = tl
	s.mu.Unlock()

	go s.acceptTCP(tl)
	flog.Infof("tcp forward rule opened on port %d", port)
	return nil
}

// OpenUDP binds a UDP forward rule on port and starts its receive loop.
func (s *Session) OpenUDP(port uint16) error {
	if !s.portAllowed(port) {
		return fmt.Errorf("server: port %d is outside the configured allow-list", port)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return err
	}

	ul := &udpListener{port: port, conn: conn}

	s.mu.Lock()
	s.udpListeners[port] = ul
	s.mu.Unlock()

	go s.receiveUDP(ul)
	flog.Infof("udp forward rule opened on port %d", port)
	return nil
}

// CloseTCP tears down the TCP forward rule on port, if any: it stops
// accepting, closes the listening socket, and closes every external socket
// spawned from it. Each such connection's own pump notices the closed
// socket and completes the usual termination path (removal plus a
// TCP_CLOSE_CONNECTION frame) on its own; CloseTCP does not wait for that.
// An unknown port is a silent no-op.
func (s *Session) CloseTCP(port uint16) {
	s.mu.Lock()
	tl, ok := s.tcpListeners[port]
	if ok {
		delete(s.tcpListeners, port)
	}
	var victims []*tcpConn
	for _, tc := range s.tcpConns {
		if tc.listenPort == port {
			victims = append(victims, tc)
		}
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	tl.ln.Close()
	for _, tc := range victims {
		tc.closeExternal()
	}
	flog.Infof("tcp forward rule closed on port %d", port)
}

// CloseUDP tears down the UDP forward rule on port, if any. An unknown port
// is a silent no-op.
func (s *Session) CloseUDP(port uint16) {
	s.mu.Lock()
	ul, ok := s.udpListeners[port]
	if ok {
		delete(s.udpListeners, port)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	ul.conn.Close()
	flog.Infof("udp forward rule closed on port %d", port)
}
