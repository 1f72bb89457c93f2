package bitstream

import "github.com/energizer-project/matchmaker/internal/netaddr"

// AddressBits is the fixed wire width of one address: a 32-bit family tag,
// four octets and a 16-bit port. There is no length prefix.
const AddressBits = 32 + 4*8 + 16

// WriteAddress writes family, octets and port in that order.
func (s *Stream) WriteAddress(a netaddr.Address) bool {
	return s.WriteS32(int32(a.Family)) &&
		s.WriteU8(a.IP[0]) &&
		s.WriteU8(a.IP[1]) &&
		s.WriteU8(a.IP[2]) &&
		s.WriteU8(a.IP[3]) &&
		s.WriteU16(a.Port)
}

// ReadAddress mirrors WriteAddress field for field. Check IsValid after.
func (s *Stream) ReadAddress() netaddr.Address {
	var a netaddr.Address
	a.Family = netaddr.Family(s.ReadS32())
	a.IP[0] = s.ReadU8()
	a.IP[1] = s.ReadU8()
	a.IP[2] = s.ReadU8()
	a.IP[3] = s.ReadU8()
	a.Port = s.ReadU16()
	return a
}
