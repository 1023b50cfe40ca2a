// Package wire implements the binary control/data protocol framing used
// between the server and its single trusted controller: fixed-width,
// big-endian integers and a tagged IPv4/IPv6 address encoding, plus the
// opcode and status vocabularies the rest of the server dispatches on.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// Opcode is one octet identifying a frame's shape on the control stream.
type Opcode = byte

const (
	OpStatus                  Opcode = 0x00
	OpTCPInitiateForwardRule  Opcode = 0x01
	OpUDPInitiateForwardRule  Opcode = 0x02
	OpTCPCloseForwardRule     Opcode = 0x03
	OpUDPCloseForwardRule     Opcode = 0x04
	OpTCPInitiateConnection   Opcode = 0x05
	OpTCPCloseConnection      Opcode = 0x06
	OpTCPMessage              Opcode = 0x07
	OpUDPMessage              Opcode = 0x08
	OpNOP                     Opcode = 0xFF
)

// Status is the one-octet code carried by an OpStatus frame.
type Status = byte

const (
	StatusSuccess           Status = 0
	StatusGeneralFailure    Status = 1
	StatusUnknownMessage    Status = 2
	StatusMissingParameters Status = 3
	StatusAlreadyListening  Status = 4
)

const (
	addrTagV4 byte = 4
	addrTagV6 byte = 6
)

var (
	// ErrUnknownAddrTag is returned when a decoded EncodedAddress carries a
	// tag octet other than 4 or 6.
	ErrUnknownAddrTag = errors.New("wire: unknown address tag")
	// ErrNilAddr is returned when encoding a nil IP.
	ErrNilAddr = errors.New("wire: nil address")
)

// EncodeAddr renders ip as an EncodedAddress: a tag octet (4 or 6) followed
// by 4 or 16 address octets in network order. It returns an error if ip is
// nil or neither a valid IPv4 nor IPv6 address.
func EncodeAddr(ip net.IP) ([]byte, error) {
	if ip == nil {
		return nil, ErrNilAddr
	}
	if v4 := ip.To4(); v4 != nil {
		out := make([]byte, 5)
		out[0] = addrTagV4
		copy(out[1:], v4)
		return out, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, errors.New("wire: address is neither IPv4 nor IPv6")
	}
	out := make([]byte, 17)
	out[0] = addrTagV6
	copy(out[1:], v6)
	return out, nil
}

// DecodeAddr reads one EncodedAddress from r and returns the decoded IP.
func DecodeAddr(r io.Reader) (net.IP, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	switch tag[0] {
	case addrTagV4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return net.IP(buf), nil
	case addrTagV6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return net.IP(buf), nil
	default:
		return nil, ErrUnknownAddrTag
	}
}

// ReadUint16 reads a big-endian uint16 from r.
func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// WriteUint16 appends v as a big-endian uint16 to dst and returns the result.
func WriteUint16(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

// ReadUint32 reads a big-endian uint32 from r.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteUint32 appends v as a big-endian uint32 to dst and returns the result.
func WriteUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}
