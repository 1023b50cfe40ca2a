package server

import (
	"net"
	"sync"

	"github.com/imterah/nextnet/internal/wire"
)

// tcpConn is one forwarded TCP connection: the accepted external socket
// plus the bookkeeping needed to serialize writes to it and to block the
// pump until the controller has acknowledged TCP_INITIATE_CONNECTION.
type tcpConn struct {
	id         uint32
	conn       net.Conn
	peerIP     net.IP
	peerPort   uint16
	listenPort uint16

	readyOnce sync.Once
	ready     chan struct{}

	writeMu sync.Mutex
	closed  bool
}

func newTCPConn(id uint32, conn net.Conn, peerIP net.IP, peerPort, listenPort uint16) *tcpConn {
	return &tcpConn{
		id:         id,
		conn:       conn,
		peerIP:     peerIP,
		peerPort:   peerPort,
		listenPort: listenPort,
		ready:      make(chan struct{}),
	}
}

// markInitialized unblocks the pump waiting on c.ready. Safe to call more
// than once; only the first call has any effect.
func (c *tcpConn) markInitialized() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// writeExternal writes payload to the external socket. It returns
// net.ErrClosed once closeExternal has run, instead of racing the
// underlying fd, so a dispatcher write can never land on a socket a pump
// is concurrently tearing down.
func (c *tcpConn) writeExternal(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	_, err := c.conn.Write(payload)
	return err
}

// closeExternal closes the external socket at most once.
func (c *tcpConn) closeExternal() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func encodeTCPCloseConnection(clientID uint32) []byte {
	frame := []byte{wire.OpTCPCloseConnection}
	return wire.WriteUint32(frame, clientID)
}
