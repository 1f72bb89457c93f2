package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/energizer-project/matchmaker/internal/netaddr"
	"github.com/energizer-project/matchmaker/internal/protocol"
)

func startLoopback(t *testing.T) *UDPTransport {
	t.Helper()
	tr := NewUDPTransport()
	if err := tr.Start(context.Background(), "127.0.0.1", 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { tr.Stop() })
	return tr
}

func TestUDPTransportReceiveAndSend(t *testing.T) {
	tr := startLoopback(t)

	client, err := net.DialUDP("udp4", nil, tr.LocalAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte{44, 1, 2, 3}); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, protocol.MaxPacketDataSize)
	n, from, err := tr.Receive(buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if n != 4 || buf[0] != 44 {
		t.Errorf("got %d bytes % x", n, buf[:n])
	}
	local := client.LocalAddr().(*net.UDPAddr)
	if from.IPString() != "127.0.0.1" || int(from.Port) != local.Port {
		t.Errorf("sender = %s, want port %d", from, local.Port)
	}

	if err := tr.Send(from, []byte{48, 7}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply := make([]byte, 16)
	m, err := client.Read(reply)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if m != 2 || reply[0] != 48 || reply[1] != 7 {
		t.Errorf("reply = % x", reply[:m])
	}
}

func TestUDPTransportRefusesOversizedSend(t *testing.T) {
	tr := startLoopback(t)
	err := tr.Send(netaddr.New(127, 0, 0, 1, 9), make([]byte, protocol.MaxPacketDataSize+1))
	if !errors.Is(err, protocol.ErrPacketTooLarge) {
		t.Errorf("err = %v, want ErrPacketTooLarge", err)
	}
}

func TestUDPTransportStop(t *testing.T) {
	tr := startLoopback(t)

	done := make(chan error, 1)
	go func() {
		_, _, err := tr.Receive(make([]byte, 16))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrTransportClosed) {
			t.Errorf("Receive after Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not unblock")
	}

	if err := tr.Send(netaddr.New(127, 0, 0, 1, 9), []byte{1}); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send after Stop: %v", err)
	}
	if tr.LocalAddr() != nil {
		t.Error("LocalAddr after Stop")
	}
}
