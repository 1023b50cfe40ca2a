package server

import (
	"net"

	"github.com/imterah/nextnet/internal/flog"
	"github.com/imterah/nextnet/internal/pkg/buffer"
	"github.com/imterah/nextnet/internal/wire"
)

// receiveUDP drives one UDP forward rule's socket, turning every inbound
// datagram into a UDP_MESSAGE frame, until the socket is closed (by
// CloseUDP or by Session.Close tearing everything down).
func (s *Session) receiveUDP(ul *udpListener) {
	for {
		bufp := buffer.Pool.Get().(*[]byte)
		b := *bufp

		n, raddr, err := ul.conn.ReadFromUDP(b)
		if err != nil {
			buffer.Pool.Put(bufp)
			if werr := flog.WErr(err); werr != nil {
				flog.Debugf("udp receiver on port %d stopped: %v", ul.port, werr)
			}
			return
		}

		addrBytes, encErr := wire.EncodeAddr(raddr.IP)
		if encErr != nil {
			buffer.Pool.Put(bufp)
			flog.Warnf("udp listener %d: cannot encode source address %s: %v", ul.port, raddr.IP, encErr)
			continue
		}

		frame := []byte{wire.OpUDPMessage}
		frame = append(frame, addrBytes...)
		frame = wire.WriteUint16(frame, uint16(raddr.Port))
		frame = wire.WriteUint16(frame, ul.port)
		frame = wire.WriteUint16(frame, uint16(n))
		frame = append(frame, b[:n]...)
		buffer.Pool.Put(bufp)

		if err := s.sendFrame(frame); err != nil {
			flog.Debugf("udp listener %d: send frame failed: %v", ul.port, err)
			return
		}
	}
}

// sendUDP writes payload out of the forward rule's socket on listenPort
// toward dest. An unknown listenPort, or a send error, is silently
// dropped: UDP delivery was never guaranteed in the first place.
func (s *Session) sendUDP(listenPort uint16, dest *net.UDPAddr, payload []byte) {
	ul, ok := s.lookupUDPListener(listenPort)
	if !ok {
		return
	}
	if _, err := ul.conn.WriteToUDP(payload, dest); err != nil {
		flog.Debugf("udp sendto %s via listener %d failed: %v", dest, listenPort, err)
	}
}
