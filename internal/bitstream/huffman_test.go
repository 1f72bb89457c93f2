package bitstream

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTable(t *testing.T) *HuffmanTable {
	t.Helper()
	table, err := NewHuffmanTable()
	if err != nil {
		t.Fatalf("NewHuffmanTable: %v", err)
	}
	return table
}

func TestHuffmanKnownCodes(t *testing.T) {
	table := newTable(t)

	tests := []struct {
		symbol  byte
		code    uint32
		numBits int
	}{
		{'e', 15, 4},
		{' ', 7, 4},
		{'a', 9, 4},
		{'0', 2, 6},
		{0, 4622, 15},
		{255, 12814, 15},
	}

	for _, tt := range tests {
		code, n := table.Code(tt.symbol)
		if code != tt.code || n != tt.numBits {
			t.Errorf("symbol %d: got (%d, %d), want (%d, %d)", tt.symbol, code, n, tt.code, tt.numBits)
		}
	}
}

func TestHuffmanTableDeterministic(t *testing.T) {
	a, b := newTable(t), newTable(t)
	for i := 0; i < 256; i++ {
		ca, na := a.Code(byte(i))
		cb, nb := b.Code(byte(i))
		if ca != cb || na != nb {
			t.Fatalf("symbol %d differs: (%d,%d) vs (%d,%d)", i, ca, na, cb, nb)
		}
	}
}

func TestHuffmanCodesFormCompletePrefixCode(t *testing.T) {
	table := newTable(t)

	const depth = 16
	kraft := 0
	for i := 0; i < 256; i++ {
		_, n := table.Code(byte(i))
		if n < 1 || n >= depth {
			t.Fatalf("symbol %d has code length %d", i, n)
		}
		kraft += 1 << uint(depth-n)
	}
	if kraft != 1<<depth {
		t.Errorf("Kraft sum = %d/%d, tree is not complete", kraft, 1<<depth)
	}

	for i := 0; i < 256; i++ {
		ci, ni := table.Code(byte(i))
		for j := 0; j < 256; j++ {
			if i == j {
				continue
			}
			cj, nj := table.Code(byte(j))
			if ni <= nj && cj&(1<<uint(ni)-1) == ci {
				t.Fatalf("code of %d is a prefix of code of %d", i, j)
			}
		}
	}
}

func TestWriteStringWireBytes(t *testing.T) {
	table := newTable(t)

	tests := []struct {
		name string
		in   string
		bits int
		want []byte
	}{
		{"compressed", "hello", 33, []byte{11, 230, 31, 67, 1}},
		{"compressed longer", "matchmaker", 57, []byte{21, 80, 2, 158, 81, 78, 222, 0}},
		{"empty is raw", "", 9, []byte{0, 0}},
		{"rare bytes fall back to raw", "\x00\x01", 25, []byte{4, 0, 2, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 32)
			s := New(buf).WithHuffman(table)
			if !s.WriteString(tt.in, MaxStringLen) {
				t.Fatalf("write: %v", s.Err())
			}
			if s.BitPosition() != tt.bits {
				t.Errorf("wrote %d bits, want %d", s.BitPosition(), tt.bits)
			}
			if got := s.Bytes(); !bytes.Equal(got, tt.want) {
				t.Errorf("bytes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	table := newTable(t)

	var all strings.Builder
	for i := 0; i < 255; i++ {
		all.WriteByte(byte(i + 1))
	}

	tests := []string{
		"",
		"a",
		"hello world",
		"Blockland Server 1.0",
		"0123456789",
		"~~~~",
		"\x00\x01\x02",
		strings.Repeat("e", MaxStringLen),
		all.String(),
	}

	for _, in := range tests {
		buf := make([]byte, 512)
		w := New(buf).WithHuffman(table)
		w.WriteFlag(true)
		if !w.WriteString(in, MaxStringLen) {
			t.Fatalf("write %q: %v", in, w.Err())
		}

		r := New(buf).WithHuffman(table)
		r.ReadFlag()
		if got := r.ReadString(); got != in {
			t.Errorf("round trip: got %q, want %q", got, in)
		}
		if r.BitPosition() != w.BitPosition() {
			t.Errorf("%q: read %d bits, wrote %d", in, r.BitPosition(), w.BitPosition())
		}
	}
}

func TestWriteStringTruncates(t *testing.T) {
	table := newTable(t)

	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"abcdefgh", 5, "abcde"},
		{strings.Repeat("x", 300), MaxStringLen, strings.Repeat("x", MaxStringLen)},
		{strings.Repeat("y", 300), 1000, strings.Repeat("y", MaxStringLen)},
		{"abc", 0, ""},
	}

	for _, tt := range tests {
		buf := make([]byte, 512)
		New(buf).WithHuffman(table).WriteString(tt.in, tt.maxLen)
		if got := New(buf).WithHuffman(table).ReadString(); got != tt.want {
			t.Errorf("maxLen %d: got %d bytes, want %d", tt.maxLen, len(got), len(tt.want))
		}
	}
}

func TestStringCacheSendsSuffix(t *testing.T) {
	table := newTable(t)
	buf := make([]byte, 32)

	w := New(buf).WithHuffman(table).EnableStringCache()
	w.WriteString("matchmaker", MaxStringLen)
	if w.BitPosition() != 58 {
		t.Errorf("first string: %d bits, want 58", w.BitPosition())
	}
	w.WriteString("matchbox", MaxStringLen)
	if w.BitPosition() != 96 {
		t.Errorf("second string: %d bits, want 96", w.BitPosition())
	}
	want := []byte{42, 160, 4, 60, 163, 156, 188, 45, 56, 176, 83, 39}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("bytes = %v, want %v", w.Bytes(), want)
	}

	r := New(buf).WithHuffman(table).EnableStringCache()
	for _, s := range []string{"matchmaker", "matchbox"} {
		if got := r.ReadString(); got != s {
			t.Errorf("got %q, want %q", got, s)
		}
	}
}

func TestStringCacheShortPrefixSentWhole(t *testing.T) {
	table := newTable(t)
	buf := make([]byte, 64)

	w := New(buf).WithHuffman(table).EnableStringCache()
	for _, s := range []string{"abc", "abd", "abcdef", "abcdef", "zzz"} {
		w.WriteString(s, MaxStringLen)
	}

	r := New(buf).WithHuffman(table).EnableStringCache()
	for _, s := range []string{"abc", "abd", "abcdef", "abcdef", "zzz"} {
		if got := r.ReadString(); got != s {
			t.Errorf("got %q, want %q", got, s)
		}
	}
	if !r.IsValid() {
		t.Errorf("read: %v", r.Err())
	}
}

func TestStringCacheRejectsLongOffset(t *testing.T) {
	table := newTable(t)
	buf := make([]byte, 16)

	w := New(buf).WithHuffman(table)
	w.WriteFlag(true)
	w.WriteInt(10, 8)
	w.WriteString("x", MaxStringLen)

	r := New(buf).WithHuffman(table).EnableStringCache()
	if got := r.ReadString(); got != "" {
		t.Errorf("got %q", got)
	}
	if !errors.Is(r.Err(), ErrBadStringCache) {
		t.Errorf("err = %v, want ErrBadStringCache", r.Err())
	}
}

func TestStringWithoutTable(t *testing.T) {
	s := New(make([]byte, 8))
	if s.WriteString("hi", MaxStringLen) {
		t.Fatal("write without table succeeded")
	}
	if !errors.Is(s.Err(), ErrNoHuffmanTable) {
		t.Errorf("err = %v", s.Err())
	}
}

func TestTruncatedCompressedString(t *testing.T) {
	table := newTable(t)
	buf := make([]byte, 16)
	New(buf).WithHuffman(table).WriteString("hello world", MaxStringLen)

	r := NewWithLimits(buf, 3, -1).WithHuffman(table)
	if got := r.ReadString(); got != "" {
		t.Errorf("got %q from truncated input", got)
	}
	if r.IsValid() {
		t.Error("truncated read should invalidate the stream")
	}
}
