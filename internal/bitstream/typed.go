package bitstream

import "math"

// Fixed-width helpers matching the engine's typed stream overloads. Values
// are written little-endian, LSB first, at the current bit cursor.

func (s *Stream) WriteU8(v uint8) bool { return s.WriteBits(8, uint64(v)) }
func (s *Stream) WriteU16(v uint16) bool { return s.WriteBits(16, uint64(v)) }
func (s *Stream) WriteU32(v uint32) bool { return s.WriteBits(32, uint64(v)) }
func (s *Stream) WriteS8(v int8) bool { return s.WriteBits(8, uint64(uint8(v))) }
func (s *Stream) WriteS16(v int16) bool { return s.WriteBits(16, uint64(uint16(v))) }
func (s *Stream) WriteS32(v int32) bool { return s.WriteBits(32, uint64(uint32(v))) }

func (s *Stream) WriteF32(v float32) bool {
	return s.WriteBits(32, uint64(math.Float32bits(v)))
}

func (s *Stream) WriteF64(v float64) bool {
	return s.WriteBits(64, math.Float64bits(v))
}

func (s *Stream) ReadU8() uint8 { return uint8(s.ReadBits(8)) }
func (s *Stream) ReadU16() uint16 { return uint16(s.ReadBits(16)) }
func (s *Stream) ReadU32() uint32 { return uint32(s.ReadBits(32)) }
func (s *Stream) ReadS8() int8 { return int8(uint8(s.ReadBits(8))) }
func (s *Stream) ReadS16() int16 { return int16(uint16(s.ReadBits(16))) }
func (s *Stream) ReadS32() int32 { return int32(uint32(s.ReadBits(32))) }

func (s *Stream) ReadF32() float32 {
	return math.Float32frombits(uint32(s.ReadBits(32)))
}

func (s *Stream) ReadF64() float64 {
	return math.Float64frombits(s.ReadBits(64))
}
