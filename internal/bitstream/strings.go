package bitstream

import "fmt"

// WriteString writes s, truncated to maxLen bytes, through the Huffman
// codec. With the string cache enabled, a string sharing more than two
// leading bytes with the previous one is sent as the prefix length plus the
// remaining suffix.
func (s *Stream) WriteString(str string, maxLen int) bool {
	if s.huff == nil {
		s.fail(ErrNoHuffmanTable)
		return false
	}
	maxLen = clampBytes(maxLen, MaxStringLen)

	if s.cacheEnabled {
		j := commonPrefix(s.cache, str, maxLen)
		if len(str) > maxLen {
			s.cache = str[:maxLen]
		} else {
			s.cache = str
		}

		if s.WriteFlag(j > 2) {
			s.WriteInt(uint32(j), 8)
			return s.huff.encode(s, str[j:], maxLen-j)
		}
	}
	return s.huff.encode(s, str, maxLen)
}

// ReadString mirrors WriteString. It returns "" on failure.
func (s *Stream) ReadString() string {
	if s.huff == nil {
		s.fail(ErrNoHuffmanTable)
		return ""
	}

	if s.cacheEnabled && s.ReadFlag() {
		offset := int(s.ReadInt(8))
		suffix, ok := s.huff.decode(s)
		if !ok {
			return ""
		}
		if offset > len(s.cache) {
			s.fail(fmt.Errorf("%w: %d > %d", ErrBadStringCache, offset, len(s.cache)))
			return ""
		}
		s.cache = s.cache[:offset] + suffix
		return s.cache
	}

	str, ok := s.huff.decode(s)
	if !ok {
		return ""
	}
	if s.cacheEnabled {
		s.cache = str
	}
	return str
}

func commonPrefix(a, b string, limit int) int {
	j := 0
	for j < limit && j < len(a) && j < len(b) && a[j] == b[j] {
		j++
	}
	return j
}
