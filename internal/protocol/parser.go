package protocol

import (
	"fmt"

	"github.com/energizer-project/matchmaker/internal/bitstream"
	"github.com/energizer-project/matchmaker/internal/netaddr"
)

func newReader(data []byte, table *bitstream.HuffmanTable) *bitstream.Stream {
	return bitstream.NewWithLimits(data, len(data), len(data)).WithHuffman(table)
}

func checkType(s *bitstream.Stream, want PacketType) error {
	got := PacketType(s.ReadU8())
	if !s.IsValid() {
		return fmt.Errorf("%w: %v", ErrMalformedPacket, s.Err())
	}
	if got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongPacketType, got, want)
	}
	return nil
}

func readAddresses(s *bitstream.Stream, n int) []netaddr.Address {
	addrs := make([]netaddr.Address, 0, n)
	for i := 0; i < n && s.IsValid(); i++ {
		addrs = append(addrs, s.ReadAddress())
	}
	return addrs
}

func finish(s *bitstream.Stream, what string) error {
	if !s.IsValid() {
		return fmt.Errorf("failed to parse %s: %w: %v", what, ErrMalformedPacket, s.Err())
	}
	return nil
}

// ParsePing decodes a MatchmakerPing datagram.
// Format: [type:8][count:8][address:80 x count][secret:32]
func ParsePing(data []byte) (*Ping, error) {
	s := newReader(data, nil)
	if err := checkType(s, PktMatchmakerPing); err != nil {
		return nil, fmt.Errorf("failed to parse ping: %w", err)
	}

	n := int(s.ReadU8())
	p := &Ping{Addresses: readAddresses(s, n)}
	p.Secret = s.ReadU32()

	if err := finish(s, "ping"); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseArrangedConnectRequest decodes an ArrangedConnectRequest datagram.
// Format: [type:8][target:80][request id:16][token:huffman]
// [local port override:32][count:8][address:80 x count]
func ParseArrangedConnectRequest(data []byte, table *bitstream.HuffmanTable) (*ArrangedConnectRequest, error) {
	s := newReader(data, table)
	if err := checkType(s, PktArrangedConnectRequest); err != nil {
		return nil, fmt.Errorf("failed to parse arranged connect request: %w", err)
	}

	req := &ArrangedConnectRequest{}
	req.Target = s.ReadAddress()
	req.RequestID = s.ReadU16()
	req.Token = s.ReadString()
	req.LocalPortOverride = s.ReadU32()
	n := int(s.ReadU8())
	req.Candidates = readAddresses(s, n)

	if err := finish(s, "arranged connect request"); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseArrangedConnectNotify decodes the packet the matchmaker sends to
// peers. The server never receives one; tools and tests do.
// Format: [type:8][secret:32][nonce1:32][nonce2:32][reserved:1][count:8]
// [address:80 x count]
func ParseArrangedConnectNotify(data []byte) (*ArrangedConnectNotify, error) {
	s := newReader(data, nil)
	if err := checkType(s, PktArrangedConnectNotify); err != nil {
		return nil, fmt.Errorf("failed to parse arranged connect notify: %w", err)
	}

	n := &ArrangedConnectNotify{}
	n.Secret = s.ReadU32()
	n.Nonce[0] = s.ReadU32()
	n.Nonce[1] = s.ReadU32()
	n.Reserved = s.ReadFlag()
	count := int(s.ReadU8())
	n.Addresses = readAddresses(s, count)

	if err := finish(s, "arranged connect notify"); err != nil {
		return nil, err
	}
	return n, nil
}
