// Package netaddr defines the engine's network address value type and its
// two textual forms.
package netaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Family is the address family tag carried on the wire as a signed 32-bit int.
type Family int32

const (
	FamilyIPX Family = 0
	FamilyIP  Family = 1
)

const (
	DefaultFamily = FamilyIP
	DefaultPort   = 28000
)

// Address is an IPv4 endpoint as the game engine sees it.
type Address struct {
	Family Family
	IP     [4]byte
	Port   uint16
}

// New returns an IP-family address.
func New(a, b, c, d byte, port uint16) Address {
	return Address{Family: FamilyIP, IP: [4]byte{a, b, c, d}, Port: port}
}

// Zero returns the default address: 0.0.0.0 on the default port.
func Zero() Address {
	return Address{Family: DefaultFamily, Port: DefaultPort}
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d=%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port, a.Family)
}

// IPString is the IP-only form used as the storage key.
func (a Address) IPString() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3])
}

// UDPAddr converts the address for use with the net package.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]),
		Port: int(a.Port),
	}
}

// FromUDPAddr converts a UDP peer address. Non-IPv4 peers are rejected.
func FromUDPAddr(addr *net.UDPAddr) (Address, error) {
	if addr == nil {
		return Address{}, fmt.Errorf("nil udp address")
	}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return Address{}, fmt.Errorf("not an IPv4 address: %s", addr.IP)
	}
	out := Address{Family: FamilyIP, Port: uint16(addr.Port)}
	copy(out.IP[:], ip4)
	return out, nil
}

// Parse accepts "a.b.c.d", "a.b.c.d:port" and "a.b.c.d:port=family".
// Missing parts take their defaults.
func Parse(s string) (Address, error) {
	out := Zero()

	host, rest, hasPort := strings.Cut(strings.TrimSpace(s), ":")
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return Address{}, fmt.Errorf("invalid address %q: bad IPv4 part", s)
	}
	copy(out.IP[:], ip)

	if !hasPort {
		return out, nil
	}

	portStr, famStr, hasFamily := strings.Cut(rest, "=")
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: bad port: %w", s, err)
	}
	out.Port = uint16(port)

	if hasFamily {
		fam, err := strconv.ParseInt(famStr, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("invalid address %q: bad family: %w", s, err)
		}
		out.Family = Family(fam)
	}

	return out, nil
}

// SameHost reports whether both addresses share the IP-only storage key.
func (a Address) SameHost(b Address) bool {
	return a.IP == b.IP
}
