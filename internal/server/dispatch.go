package server

import (
	"io"
	"net"

	"github.com/imterah/nextnet/internal/flog"
	"github.com/imterah/nextnet/internal/pkg/buffer"
	"github.com/imterah/nextnet/internal/wire"
)

// dispatchOnce reads and handles exactly one frame from the controller.
// Any error it returns is fatal to the session: the wire format carries no
// resynchronization marker, so a short read or a malformed field leaves the
// stream unrecoverable and the caller tears the session down.
func (s *Session) dispatchOnce() error {
	var opBuf [1]byte
	if _, err := io.ReadFull(s.conn, opBuf[:]); err != nil {
		return err
	}

	switch op := opBuf[0]; op {
	case wire.OpStatus:
		return s.handleStatus()
	case wire.OpTCPInitiateForwardRule:
		return s.handleOpenForwardRule(true)
	case wire.OpUDPInitiateForwardRule:
		return s.handleOpenForwardRule(false)
	case wire.OpTCPCloseForwardRule:
		return s.handleCloseForwardRule(true)
	case wire.OpUDPCloseForwardRule:
		return s.handleCloseForwardRule(false)
	case wire.OpTCPCloseConnection:
		return s.handleTCPCloseConnection()
	case wire.OpTCPMessage:
		return s.handleTCPMessage()
	case wire.OpUDPMessage:
		return s.handleUDPMessage()
	case wire.OpNOP:
		return nil
	default:
		// OpTCPInitiateConnection is server-originated only; a controller
		// sending it back falls through to the same unknown-opcode reply
		// as any other opcode it has no business sending.
		return s.handleUnknown(op)
	}
}

// handleStatus consumes a STATUS frame from the controller. The only one
// the controller sends unprompted is the acknowledgement of a
// TCP_INITIATE_CONNECTION this session announced; its body echoes that
// frame's address, ports, and client id in full, which this also has to
// consume to stay in sync with the stream.
func (s *Session) handleStatus() error {
	var statusAndOp [2]byte
	if _, err := io.ReadFull(s.conn, statusAndOp[:]); err != nil {
		return err
	}
	status, echoedOp := statusAndOp[0], statusAndOp[1]

	var (
		clientID     uint32
		haveClientID bool
	)

	if echoedOp == wire.OpTCPInitiateConnection {
		if _, err := wire.DecodeAddr(s.conn); err != nil {
			return err
		}
		if _, err := wire.ReadUint16(s.conn); err != nil { // source port
			return err
		}
		if _, err := wire.ReadUint16(s.conn); err != nil { // listen port
			return err
		}
		id, err := wire.ReadUint32(s.conn)
		if err != nil {
			return err
		}
		clientID, haveClientID = id, true
	}

	if status != wire.StatusSuccess && echoedOp != wire.OpNOP {
		flog.Warnf("controller reported status %d for opcode 0x%02x", status, echoedOp)
	}

	if haveClientID {
		if status == wire.StatusSuccess {
			if tc, ok := s.lookupTCPConn(clientID); ok {
				tc.markInitialized()
			}
		} else {
			// The controller refused this connection outright: it will
			// never send an ack, so the pump would otherwise block on
			// tc.ready forever.
			s.terminateTCPConn(clientID, false)
		}
	}
	return nil
}

// handleOpenForwardRule handles TCP_INITIATE_FORWARD_RULE and
// UDP_INITIATE_FORWARD_RULE, replying with STATUS SUCCESS or
// STATUS GENERAL_FAILURE echoing the requested port.
func (s *Session) handleOpenForwardRule(tcp bool) error {
	port, err := wire.ReadUint16(s.conn)
	if err != nil {
		return err
	}

	var (
		op      wire.Opcode
		openErr error
	)
	if tcp {
		op, openErr = wire.OpTCPInitiateForwardRule, s.OpenTCP(port)
	} else {
		op, openErr = wire.OpUDPInitiateForwardRule, s.OpenUDP(port)
	}

	status := wire.StatusSuccess
	if openErr != nil {
		status = wire.StatusGeneralFailure
		flog.Warnf("failed to open forward rule on port %d: %v", port, openErr)
	}

	reply := []byte{wire.OpStatus, status, op}
	reply = wire.WriteUint16(reply, port)
	return s.sendFrame(reply)
}

// handleCloseForwardRule handles TCP_CLOSE_FORWARD_RULE and
// UDP_CLOSE_FORWARD_RULE. Closing a rule that is not open is a no-op that
// still replies SUCCESS: the end state the controller asked for (no rule
// listening on that port) already holds.
func (s *Session) handleCloseForwardRule(tcp bool) error {
	port, err := wire.ReadUint16(s.conn)
	if err != nil {
		return err
	}

	var op wire.Opcode
	if tcp {
		op = wire.OpTCPCloseForwardRule
		s.CloseTCP(port)
	} else {
		op = wire.OpUDPCloseForwardRule
		s.CloseUDP(port)
	}

	reply := []byte{wire.OpStatus, wire.StatusSuccess, op}
	reply = wire.WriteUint16(reply, port)
	return s.sendFrame(reply)
}

// handleTCPCloseConnection handles a controller-initiated
// TCP_CLOSE_CONNECTION: if the client id is live, its external socket is
// closed and it is removed with no reply frame: the controller already
// knows it asked for the close.
func (s *Session) handleTCPCloseConnection() error {
	clientID, err := wire.ReadUint32(s.conn)
	if err != nil {
		return err
	}
	s.terminateTCPConn(clientID, false)
	return nil
}

// handleTCPMessage forwards one TCP_MESSAGE payload to the corresponding
// external socket. An unknown client id silently drops the payload — the
// connection may have closed moments before this frame was sent. A write
// failure ends that connection and announces it with TCP_CLOSE_CONNECTION.
func (s *Session) handleTCPMessage() error {
	clientID, err := wire.ReadUint32(s.conn)
	if err != nil {
		return err
	}
	length, err := wire.ReadUint16(s.conn)
	if err != nil {
		return err
	}

	bufp := buffer.Pool.Get().(*[]byte)
	defer buffer.Pool.Put(bufp)
	payload := (*bufp)[:length]
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return err
	}

	tc, ok := s.lookupTCPConn(clientID)
	if !ok {
		return nil
	}

	if err := tc.writeExternal(payload); err != nil {
		s.terminateTCPConn(clientID, true)
	}
	return nil
}

// handleUDPMessage forwards one UDP_MESSAGE payload out of the named
// forward rule's socket toward the given destination. An address tag
// outside {4, 6} leaves the remaining length of the frame unknowable, so
// unlike the other silently-dropped cases, this is fatal to the session:
// continuing to read would desynchronize opcode framing on the stream.
func (s *Session) handleUDPMessage() error {
	destIP, err := wire.DecodeAddr(s.conn)
	if err != nil {
		return err
	}
	destPort, err := wire.ReadUint16(s.conn)
	if err != nil {
		return err
	}
	listenPort, err := wire.ReadUint16(s.conn)
	if err != nil {
		return err
	}
	length, err := wire.ReadUint16(s.conn)
	if err != nil {
		return err
	}

	bufp := buffer.Pool.Get().(*[]byte)
	defer buffer.Pool.Put(bufp)
	payload := (*bufp)[:length]
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return err
	}

	s.sendUDP(listenPort, &net.UDPAddr{IP: destIP, Port: int(destPort)}, payload)
	return nil
}

// handleUnknown replies STATUS UNKNOWN_MESSAGE echoing the opcode that was
// not recognized.
func (s *Session) handleUnknown(op wire.Opcode) error {
	flog.Warnf("unknown opcode 0x%02x from controller", op)
	return s.sendFrame([]byte{wire.OpStatus, wire.StatusUnknownMessage, op})
}
