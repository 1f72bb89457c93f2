// Package protocol implements the matchmaker's datagram formats. Every
// packet starts with a one-byte type code and is bit-packed with the
// engine's bit stream, so fields are not byte aligned.
package protocol

import (
	"errors"
	"fmt"

	"github.com/energizer-project/matchmaker/internal/bitstream"
	"github.com/energizer-project/matchmaker/internal/netaddr"
)

// PacketType is the first byte of every datagram. The values are fixed by
// the game engine.
type PacketType byte

const (
	PktMatchmakerPing         PacketType = 44 // server announces its addresses
	PktArrangedConnectRequest PacketType = 46 // client asks for a server
	PktArrangedConnectNotify  PacketType = 48 // matchmaker -> both peers
)

// MaxPacketDataSize is the largest datagram sent or received.
const MaxPacketDataSize = 1500

// DefaultSecret is the protocol secret of engine version 21.
const DefaultSecret uint32 = 257752152

// MaxAddresses is the most addresses an 8-bit count can announce.
const MaxAddresses = 255

// MaxTokenLen bounds the request token string.
const MaxTokenLen = 255

// notifyHeaderBits is everything in a notify before its address list.
const notifyHeaderBits = 8 + 32 + 32 + 32 + 1 + 8

// MaxNotifyAddresses is the most addresses a notify can carry within
// MaxPacketDataSize.
const MaxNotifyAddresses = (MaxPacketDataSize*8 - notifyHeaderBits) / bitstream.AddressBits

var (
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrWrongPacketType  = errors.New("wrong packet type")
	ErrPacketTooLarge   = errors.New("packet too large")
	ErrTooManyAddresses = errors.New("too many addresses")
)

var typeNames = map[PacketType]string{
	PktMatchmakerPing:         "MatchmakerPing",
	PktArrangedConnectRequest: "ArrangedConnectRequest",
	PktArrangedConnectNotify:  "ArrangedConnectNotify",
}

func (t PacketType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(t))
}

// IsValid reports whether t is a type the matchmaker knows.
func (t PacketType) IsValid() bool {
	_, ok := typeNames[t]
	return ok
}

// KnownTypes lists the recognised packet types in code order.
func KnownTypes() []PacketType {
	return []PacketType{PktMatchmakerPing, PktArrangedConnectRequest, PktArrangedConnectNotify}
}

// Ping is a server heartbeat listing the addresses it can be reached on.
type Ping struct {
	Addresses []netaddr.Address
	Secret    uint32
}

// ArrangedConnectRequest asks the matchmaker to introduce a client to a
// server.
type ArrangedConnectRequest struct {
	Target            netaddr.Address
	RequestID         uint16
	Token             string
	LocalPortOverride uint32
	Candidates        []netaddr.Address
}

// ArrangedConnectNotify tells one peer where to find the other.
type ArrangedConnectNotify struct {
	Secret    uint32
	Nonce     [2]uint32
	Reserved  bool
	Addresses []netaddr.Address
}
