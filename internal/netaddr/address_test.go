package netaddr

import (
	"net"
	"testing"
)

func TestStringForms(t *testing.T) {
	a := New(192, 168, 1, 20, 28050)
	if got := a.String(); got != "192.168.1.20:28050=1" {
		t.Errorf("String() = %q", got)
	}
	if got := a.IPString(); got != "192.168.1.20" {
		t.Errorf("IPString() = %q", got)
	}
}

func TestZero(t *testing.T) {
	z := Zero()
	if z.Family != FamilyIP || z.Port != DefaultPort || z.IP != [4]byte{} {
		t.Errorf("Zero() = %+v", z)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "10.0.0.1", want: Address{Family: FamilyIP, IP: [4]byte{10, 0, 0, 1}, Port: DefaultPort}},
		{in: "10.0.0.1:5555", want: Address{Family: FamilyIP, IP: [4]byte{10, 0, 0, 1}, Port: 5555}},
		{in: "10.0.0.1:5555=0", want: Address{Family: FamilyIPX, IP: [4]byte{10, 0, 0, 1}, Port: 5555}},
		{in: "not-an-ip", wantErr: true},
		{in: "10.0.0.1:99999", wantErr: true},
		{in: "10.0.0.1:80=x", wantErr: true},
		{in: "::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRoundTripsString(t *testing.T) {
	a := Address{Family: FamilyIPX, IP: [4]byte{1, 2, 3, 4}, Port: 65535}
	got, err := Parse(a.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != a {
		t.Errorf("got %+v, want %+v", got, a)
	}
}

func TestUDPConversion(t *testing.T) {
	udp := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 40000}
	a, err := FromUDPAddr(udp)
	if err != nil {
		t.Fatalf("FromUDPAddr: %v", err)
	}
	if a != New(203, 0, 113, 9, 40000) {
		t.Errorf("got %+v", a)
	}
	back := a.UDPAddr()
	if !back.IP.Equal(udp.IP) || back.Port != udp.Port {
		t.Errorf("UDPAddr() = %v, want %v", back, udp)
	}

	if _, err := FromUDPAddr(&net.UDPAddr{IP: net.ParseIP("2001:db8::1")}); err == nil {
		t.Error("expected error for IPv6 peer")
	}
	if _, err := FromUDPAddr(nil); err == nil {
		t.Error("expected error for nil peer")
	}
}
