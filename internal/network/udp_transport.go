package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/netaddr"
	"github.com/energizer-project/matchmaker/internal/protocol"
)

// ErrTransportClosed is returned by Receive and Send once Stop has run.
var ErrTransportClosed = errors.New("transport closed")

// Transport is the datagram endpoint the router drives. Receive blocks
// until a datagram arrives or the transport is stopped.
type Transport interface {
	Start(ctx context.Context, host string, port int) error
	Stop() error
	Receive(buf []byte) (int, netaddr.Address, error)
	Send(dest netaddr.Address, data []byte) error
}

// UDPTransport is a Transport over a single IPv4 UDP socket.
type UDPTransport struct {
	mu   sync.RWMutex
	conn *net.UDPConn
}

// NewUDPTransport creates an unbound UDP transport.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

// Start binds host:port. An empty host binds every interface.
func (t *UDPTransport) Start(ctx context.Context, host string, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	// SO_REUSEADDR so a restarted matchmaker can rebind immediately.
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP %s: %w", addr, err)
	}
	t.conn = pc.(*net.UDPConn)

	log.Info().Str("addr", t.conn.LocalAddr().String()).Msg("UDP transport bound")
	return nil
}

// Stop closes the socket. It is safe to call more than once.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// LocalAddr returns the bound address, or nil before Start.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *UDPTransport) socket() (*net.UDPConn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil, ErrTransportClosed
	}
	return t.conn, nil
}

// Receive reads the next datagram from an IPv4 peer into buf.
func (t *UDPTransport) Receive(buf []byte) (int, netaddr.Address, error) {
	conn, err := t.socket()
	if err != nil {
		return 0, netaddr.Address{}, err
	}

	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return 0, netaddr.Address{}, ErrTransportClosed
			}
			return 0, netaddr.Address{}, fmt.Errorf("UDP receive failed: %w", err)
		}

		sender, err := netaddr.FromUDPAddr(remote)
		if err != nil {
			log.Trace().Str("remote", remote.String()).Msg("ignoring datagram from non-IPv4 peer")
			continue
		}
		return n, sender, nil
	}
}

// Send writes one datagram. Payloads above MaxPacketDataSize are refused.
func (t *UDPTransport) Send(dest netaddr.Address, data []byte) error {
	if len(data) > protocol.MaxPacketDataSize {
		return fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrPacketTooLarge, len(data), protocol.MaxPacketDataSize)
	}

	conn, err := t.socket()
	if err != nil {
		return err
	}

	if _, err := conn.WriteToUDP(data, dest.UDPAddr()); err != nil {
		return fmt.Errorf("UDP send to %s failed: %w", dest.IPString(), err)
	}
	return nil
}
