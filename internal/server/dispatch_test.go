package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/imterah/nextnet/internal/wire"
)

func newTestSession(t *testing.T) (sess *Session, controller net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	sess = NewSession(context.Background(), serverSide, nil)
	go sess.Run()
	t.Cleanup(func() {
		sess.Close()
		clientSide.Close()
	})
	return sess, clientSide
}

func readN(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func TestUnknownOpcodeReplyUnknownMessage(t *testing.T) {
	_, controller := newTestSession(t)

	if _, err := controller.Write([]byte{0x77}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readN(t, controller, 3)
	want := []byte{wire.OpStatus, wire.StatusUnknownMessage, 0x77}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestNOPProducesNoReply(t *testing.T) {
	_, controller := newTestSession(t)

	if _, err := controller.Write([]byte{wire.OpNOP}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Follow the NOP immediately with an opcode that does reply; if NOP had
	// emitted anything, it would show up ahead of this reply.
	if _, err := controller.Write([]byte{0x77}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readN(t, controller, 3)
	want := []byte{wire.OpStatus, wire.StatusUnknownMessage, 0x77}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestTCPCloseConnectionForUnknownClientIsSilent(t *testing.T) {
	_, controller := newTestSession(t)

	frame := []byte{wire.OpTCPCloseConnection, 0, 0, 0, 0}
	if _, err := controller.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Nothing should arrive in response; confirm the stream is still alive
	// by round-tripping an unrelated unknown opcode afterward.
	controller.Write([]byte{0x99})
	got := readN(t, controller, 3)
	want := []byte{wire.OpStatus, wire.StatusUnknownMessage, 0x99}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestControllerDisconnectEndsSession(t *testing.T) {
	sess, controller := newTestSession(t)
	controller.Close()

	select {
	case <-sess.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not tear down after controller disconnect")
	}
}
