package server

import (
	"net"
	"strconv"

	"github.com/imterah/nextnet/internal/flog"
	"github.com/imterah/nextnet/internal/pkg/buffer"
	"github.com/imterah/nextnet/internal/wire"
)

// acceptTCP drives one forward rule's listener, spawning a pump per
// accepted connection, until the listener is closed (by CloseTCP or by
// Session.Close tearing everything down).
func (s *Session) acceptTCP(tl *tcpListener) {
	for {
		conn, err := tl.ln.Accept()
		if err != nil {
			if werr := flog.WErr(err); werr != nil {
				flog.Debugf("tcp acceptor on port %d stopped: %v", tl.port, werr)
			}
			return
		}
		go s.pumpTCP(tl.port, conn)
	}
}

// pumpTCP owns one forwarded TCP connection end to end: it registers a
// client id, announces the connection with TCP_INITIATE_CONNECTION, waits
// for the controller's acknowledgement before moving any data (never
// busy-waiting), and streams TCP_MESSAGE frames for as long as the external
// socket has data. When its read loop ends it removes itself and announces
// TCP_CLOSE_CONNECTION, unless the connection was already removed (closed
// or refused by the controller, or dropped with the session). A pump that
// fails to announce the connection, or whose session ends before the
// acknowledgement, removes itself without a close frame.
func (s *Session) pumpTCP(listenPort uint16, conn net.Conn) {
	peerIP, peerPort := splitHostPort(conn.RemoteAddr())

	tc, err := s.registerTCPConn(conn, peerIP, peerPort, listenPort)
	if err != nil {
		flog.Errorf("tcp pump: %v", err)
		conn.Close()
		s.Close()
		return
	}

	addrBytes, err := wire.EncodeAddr(peerIP)
	if err != nil {
		flog.Errorf("tcp pump: cannot encode peer address %s: %v", peerIP, err)
		s.terminateTCPConn(tc.id, false)
		return
	}

	frame := []byte{wire.OpTCPInitiateConnection}
	frame = append(frame, addrBytes...)
	frame = wire.WriteUint16(frame, peerPort)
	frame = wire.WriteUint16(frame, listenPort)
	frame = wire.WriteUint32(frame, tc.id)

	if err := s.sendFrame(frame); err != nil {
		flog.Debugf("tcp pump: failed to announce client %d: %v", tc.id, err)
		s.terminateTCPConn(tc.id, false)
		return
	}

	select {
	case <-tc.ready:
	case <-s.ctx.Done():
		s.terminateTCPConn(tc.id, false)
		return
	}

	bufp := buffer.Pool.Get().(*[]byte)
	defer buffer.Pool.Put(bufp)
	b := *bufp

	for {
		n, err := conn.Read(b[:65535])
		if n > 0 {
			msg := []byte{wire.OpTCPMessage}
			msg = wire.WriteUint32(msg, tc.id)
			msg = wire.WriteUint16(msg, uint16(n))
			msg = append(msg, b[:n]...)
			if werr := s.sendFrame(msg); werr != nil {
				flog.Debugf("tcp pump: failed to forward data for client %d: %v", tc.id, werr)
				break
			}
		}
		if err != nil {
			break
		}
	}

	s.terminateTCPConn(tc.id, true)
}

func splitHostPort(addr net.Addr) (net.IP, uint16) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, 0
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return net.ParseIP(host), uint16(port)
}
