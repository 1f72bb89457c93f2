// Package bitstream implements the game engine's bit-addressed packet
// stream: arbitrary-width little-endian integers packed LSB-first, flags,
// quantized floats, Huffman-compressed strings and network addresses.
//
// A Stream borrows its buffer and never grows it. Any read or write that
// would cross the configured limit fails, leaves the cursor where it was and
// latches a sticky error; callers check IsValid or Err once at the end of a
// decode or encode pass.
package bitstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrOutOfRange is wrapped by every bounds failure.
	ErrOutOfRange = errors.New("bitstream: out of range")

	// ErrNoHuffmanTable is returned when strings are used on a stream
	// without a table attached.
	ErrNoHuffmanTable = errors.New("bitstream: no huffman table")

	// ErrBadStringCache marks a cached-prefix length longer than the cache.
	ErrBadStringCache = errors.New("bitstream: bad string cache offset")

	// ErrBadBitCount marks a field width the operation cannot represent.
	ErrBadBitCount = errors.New("bitstream: bad bit count")
)

// Stream is a bit cursor over a caller-owned byte slice.
type Stream struct {
	buf          []byte
	bitNum       int
	maxReadBits  int
	maxWriteBits int
	err          error

	huff         *HuffmanTable
	cacheEnabled bool
	cache        string
}

// New returns a stream that may read and write the whole of buf.
func New(buf []byte) *Stream {
	return NewWithLimits(buf, len(buf), len(buf))
}

// NewWithLimits returns a stream over buf that reads at most readSize bytes
// and writes at most writeSize bytes. A negative writeSize means readSize.
// Both limits are clamped to len(buf).
func NewWithLimits(buf []byte, readSize, writeSize int) *Stream {
	if writeSize < 0 {
		writeSize = readSize
	}
	return &Stream{
		buf:          buf,
		maxReadBits:  clampBytes(readSize, len(buf)) << 3,
		maxWriteBits: clampBytes(writeSize, len(buf)) << 3,
	}
}

func clampBytes(n, capacity int) int {
	if n < 0 {
		return 0
	}
	if n > capacity {
		return capacity
	}
	return n
}

// WithHuffman attaches the string codec table and returns the stream.
func (s *Stream) WithHuffman(t *HuffmanTable) *Stream {
	s.huff = t
	return s
}

// EnableStringCache turns on last-string prefix compression for this stream.
// Both ends of a conversation must agree on it.
func (s *Stream) EnableStringCache() *Stream {
	s.cacheEnabled = true
	s.cache = ""
	return s
}

// IsValid reports whether no operation has failed yet.
func (s *Stream) IsValid() bool {
	return s.err == nil
}

// Err returns the first failure, or nil.
func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) failRange(op string, count, limit int) {
	s.fail(fmt.Errorf("%w: %s of %d bits at bit %d (limit %d)", ErrOutOfRange, op, count, s.bitNum, limit))
}

// BitPosition returns the cursor in bits.
func (s *Stream) BitPosition() int {
	return s.bitNum
}

// SetBitPosition moves the cursor. Positions outside the buffer are a caller
// bug; they are refused and the cursor stays put.
func (s *Stream) SetBitPosition(pos int) bool {
	if pos < 0 || pos > len(s.buf)<<3 {
		return false
	}
	s.bitNum = pos
	return true
}

// BytePosition returns the cursor rounded up to whole bytes.
func (s *Stream) BytePosition() int {
	return (s.bitNum + 7) >> 3
}

// SetBytePosition moves the cursor to a byte boundary.
func (s *Stream) SetBytePosition(pos int) bool {
	return s.SetBitPosition(pos << 3)
}

// Bytes returns the written prefix of the buffer, up to BytePosition.
func (s *Stream) Bytes() []byte {
	return s.buf[:s.BytePosition()]
}

// Capacity returns the length of the underlying buffer.
func (s *Stream) Capacity() int {
	return len(s.buf)
}

// writeRaw copies count bits from src into the stream at the cursor. Bits
// below the cursor in the first byte are kept; bits past the end of the
// field in the last byte are cleared.
func (s *Stream) writeRaw(count int, src []byte) bool {
	if count == 0 {
		return true
	}
	if count < 0 || s.bitNum+count > s.maxWriteBits {
		s.failRange("write", count, s.maxWriteBits)
		return false
	}

	start := s.bitNum >> 3
	end := (s.bitNum + count - 1) >> 3
	up := uint(s.bitNum & 7)
	down := 8 - up
	lastMask := byte(0xFF) >> (7 - uint((s.bitNum+count-1)&7))
	startMask := byte(0xFF) >> down

	cur := byteAt(src, 0)
	s.buf[start] = cur<<up | s.buf[start]&startMask
	for i, si := start+1, 1; i <= end; i, si = i+1, si+1 {
		next := byteAt(src, si)
		s.buf[i] = cur>>down | next<<up
		cur = next
	}
	s.buf[end] &= lastMask

	s.bitNum += count
	return true
}

// readRaw copies count bits at the cursor into dst, LSB-first. The final
// partial byte of dst may carry bits beyond the field.
func (s *Stream) readRaw(count int, dst []byte) bool {
	if count == 0 {
		return true
	}
	if count < 0 || s.bitNum+count > s.maxReadBits {
		s.failRange("read", count, s.maxReadBits)
		return false
	}

	start := s.bitNum >> 3
	down := uint(s.bitNum & 7)
	up := 8 - down

	cur := s.buf[start]
	for i := 0; i < (count+7)>>3; i++ {
		next := byteAt(s.buf, start+1+i)
		dst[i] = cur>>down | next<<up
		cur = next
	}

	s.bitNum += count
	return true
}

func byteAt(b []byte, i int) byte {
	if i < len(b) {
		return b[i]
	}
	return 0
}

// WriteBits writes the low count bits of value, count in [0, 64].
func (s *Stream) WriteBits(count int, value uint64) bool {
	if count > 64 {
		s.fail(fmt.Errorf("%w: %d", ErrBadBitCount, count))
		return false
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	return s.writeRaw(count, b[:])
}

// ReadBits reads count bits, count in [0, 64]. It returns 0 on failure.
func (s *Stream) ReadBits(count int) uint64 {
	if count > 64 {
		s.fail(fmt.Errorf("%w: %d", ErrBadBitCount, count))
		return 0
	}
	var b [8]byte
	if !s.readRaw(count, b[:]) {
		return 0
	}
	v := binary.LittleEndian.Uint64(b[:])
	if count < 64 {
		v &= 1<<uint(count) - 1
	}
	return v
}

// WriteFlag writes one bit and returns val, so it can guard an optional
// field. It returns false when the write fails.
func (s *Stream) WriteFlag(val bool) bool {
	if s.bitNum+1 > s.maxWriteBits {
		s.failRange("write", 1, s.maxWriteBits)
		return false
	}
	mask := byte(1) << uint(s.bitNum&7)
	if val {
		s.buf[s.bitNum>>3] |= mask
	} else {
		s.buf[s.bitNum>>3] &^= mask
	}
	s.bitNum++
	return val
}

// ReadFlag reads one bit. It returns false on failure.
func (s *Stream) ReadFlag() bool {
	if s.bitNum+1 > s.maxReadBits {
		s.failRange("read", 1, s.maxReadBits)
		return false
	}
	set := s.buf[s.bitNum>>3]&(1<<uint(s.bitNum&7)) != 0
	s.bitNum++
	return set
}

// WriteInt writes the low bitCount bits of value, bitCount in [0, 32].
func (s *Stream) WriteInt(value uint32, bitCount int) bool {
	if bitCount > 32 {
		s.fail(fmt.Errorf("%w: int of %d bits", ErrBadBitCount, bitCount))
		return false
	}
	return s.WriteBits(bitCount, uint64(value))
}

// ReadInt reads a bitCount-wide unsigned field, bitCount in [0, 32].
func (s *Stream) ReadInt(bitCount int) uint32 {
	if bitCount > 32 {
		s.fail(fmt.Errorf("%w: int of %d bits", ErrBadBitCount, bitCount))
		return 0
	}
	return uint32(s.ReadBits(bitCount))
}

// WriteSignedInt writes a sign flag followed by |value| in bitCount-1 bits.
// The magnitude must fit; that is not checked.
func (s *Stream) WriteSignedInt(value int32, bitCount int) bool {
	if bitCount < 1 {
		s.fail(fmt.Errorf("%w: signed int of %d bits", ErrBadBitCount, bitCount))
		return false
	}
	mag := uint32(value)
	if s.WriteFlag(value < 0) {
		mag = uint32(-value)
	}
	return s.WriteInt(mag, bitCount-1)
}

// ReadSignedInt mirrors WriteSignedInt.
func (s *Stream) ReadSignedInt(bitCount int) int32 {
	if bitCount < 1 {
		s.fail(fmt.Errorf("%w: signed int of %d bits", ErrBadBitCount, bitCount))
		return 0
	}
	neg := s.ReadFlag()
	mag := int32(s.ReadInt(bitCount - 1))
	if neg {
		return -mag
	}
	return mag
}

func floatScale(bitCount int) float64 {
	return float64(uint64(1)<<uint(bitCount) - 1)
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

// WriteFloat quantizes f in [0, 1] to bitCount bits, bitCount in [1, 32].
func (s *Stream) WriteFloat(f float32, bitCount int) bool {
	if bitCount < 1 || bitCount > 32 {
		s.fail(fmt.Errorf("%w: float of %d bits", ErrBadBitCount, bitCount))
		return false
	}
	q := math.Round(clamp01(float64(f)) * floatScale(bitCount))
	return s.WriteInt(uint32(q), bitCount)
}

// ReadFloat mirrors WriteFloat.
func (s *Stream) ReadFloat(bitCount int) float32 {
	if bitCount < 1 || bitCount > 32 {
		s.fail(fmt.Errorf("%w: float of %d bits", ErrBadBitCount, bitCount))
		return 0
	}
	return float32(float64(s.ReadInt(bitCount)) / floatScale(bitCount))
}

// WriteSignedFloat quantizes f in [-1, 1] to bitCount bits.
func (s *Stream) WriteSignedFloat(f float32, bitCount int) bool {
	return s.WriteFloat(float32((float64(f)+1)*0.5), bitCount)
}

// ReadSignedFloat mirrors WriteSignedFloat.
func (s *Stream) ReadSignedFloat(bitCount int) float32 {
	if bitCount < 1 || bitCount > 32 {
		s.fail(fmt.Errorf("%w: float of %d bits", ErrBadBitCount, bitCount))
		return 0
	}
	return float32(float64(s.ReadInt(bitCount))*2/floatScale(bitCount) - 1)
}

// WriteBytes writes p as whole bytes at the cursor, which need not be
// byte aligned.
func (s *Stream) WriteBytes(p []byte) bool {
	return s.writeRaw(len(p)<<3, p)
}

// ReadBytes reads n whole bytes. It returns nil on failure.
func (s *Stream) ReadBytes(n int) []byte {
	if n < 0 {
		s.failRange("read", n<<3, s.maxReadBits)
		return nil
	}
	out := make([]byte, n)
	if !s.readRaw(n<<3, out) {
		return nil
	}
	return out
}
