package protocol

import (
	"errors"
	"fmt"

	"github.com/energizer-project/matchmaker/internal/bitstream"
	"github.com/energizer-project/matchmaker/internal/netaddr"
)

// PacketBuilder bit-packs one outbound datagram into a MaxPacketDataSize
// buffer. Writes are chained; the first failure is reported by Build.
type PacketBuilder struct {
	buf []byte
	s   *bitstream.Stream
	err error
}

// NewPacketBuilder starts a packet of the given type.
func NewPacketBuilder(t PacketType, table *bitstream.HuffmanTable) *PacketBuilder {
	buf := make([]byte, MaxPacketDataSize)
	b := &PacketBuilder{buf: buf, s: bitstream.New(buf).WithHuffman(table)}
	return b.U8(uint8(t))
}

// U8 writes an 8-bit field.
func (b *PacketBuilder) U8(v uint8) *PacketBuilder {
	b.s.WriteU8(v)
	return b
}

// U16 writes a 16-bit field.
func (b *PacketBuilder) U16(v uint16) *PacketBuilder {
	b.s.WriteU16(v)
	return b
}

// U32 writes a 32-bit field.
func (b *PacketBuilder) U32(v uint32) *PacketBuilder {
	b.s.WriteU32(v)
	return b
}

// Flag writes a single bit.
func (b *PacketBuilder) Flag(v bool) *PacketBuilder {
	b.s.WriteFlag(v)
	return b
}

// String writes a Huffman-coded string of at most maxLen bytes.
func (b *PacketBuilder) String(v string, maxLen int) *PacketBuilder {
	b.s.WriteString(v, maxLen)
	return b
}

// Address writes one fixed-width address.
func (b *PacketBuilder) Address(a netaddr.Address) *PacketBuilder {
	b.s.WriteAddress(a)
	return b
}

// Addresses writes an 8-bit count followed by each address.
func (b *PacketBuilder) Addresses(addrs []netaddr.Address) *PacketBuilder {
	if len(addrs) > MaxAddresses {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %d (max %d)", ErrTooManyAddresses, len(addrs), MaxAddresses)
		}
		return b
	}
	b.s.WriteU8(uint8(len(addrs)))
	for _, a := range addrs {
		b.s.WriteAddress(a)
	}
	return b
}

// Build returns the packed bytes, or an error when a field was rejected or
// the packet outgrew MaxPacketDataSize.
func (b *PacketBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.s.Err(); err != nil {
		if errors.Is(err, bitstream.ErrOutOfRange) {
			return nil, fmt.Errorf("%w: %v", ErrPacketTooLarge, err)
		}
		return nil, err
	}
	return b.s.Bytes(), nil
}

// BuildArrangedConnectNotify packs the notify sent to one side of an
// arranged connect. The reserved flag is always written as false.
func BuildArrangedConnectNotify(secret uint32, nonce [2]uint32, addrs []netaddr.Address) ([]byte, error) {
	data, err := NewPacketBuilder(PktArrangedConnectNotify, nil).
		U32(secret).
		U32(nonce[0]).
		U32(nonce[1]).
		Flag(false).
		Addresses(addrs).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build arranged connect notify: %w", err)
	}
	return data, nil
}

// BuildPing packs a MatchmakerPing, as a game server would send it.
func BuildPing(p *Ping) ([]byte, error) {
	data, err := NewPacketBuilder(PktMatchmakerPing, nil).
		Addresses(p.Addresses).
		U32(p.Secret).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build ping: %w", err)
	}
	return data, nil
}

// BuildArrangedConnectRequest packs a request, as a client would send it.
func BuildArrangedConnectRequest(r *ArrangedConnectRequest, table *bitstream.HuffmanTable) ([]byte, error) {
	data, err := NewPacketBuilder(PktArrangedConnectRequest, table).
		Address(r.Target).
		U16(r.RequestID).
		String(r.Token, MaxTokenLen).
		U32(r.LocalPortOverride).
		Addresses(r.Candidates).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build arranged connect request: %w", err)
	}
	return data, nil
}
