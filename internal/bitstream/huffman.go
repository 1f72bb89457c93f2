package bitstream

import (
	"fmt"
)

// MaxStringLen is the longest string the 8-bit length field can carry.
const MaxStringLen = 255

// maxCodeBits bounds a leaf code; codes are held in a uint32.
const maxCodeBits = 32

type huffNode struct {
	weight uint32
	index0 int // child for bit 0: >= 0 is a node, < 0 is leaf -(i+1)
	index1 int
}

type huffLeaf struct {
	weight  uint32
	symbol  byte
	numBits int
	code    uint32
}

// HuffmanTable is the static string codec. It is built once from the fixed
// frequency table and is read-only afterwards, so one table can be shared
// by every stream and goroutine.
type HuffmanTable struct {
	nodes  []huffNode
	leaves [256]huffLeaf
}

// NewHuffmanTable builds the table from the engine's frequency counts.
func NewHuffmanTable() (*HuffmanTable, error) {
	return buildHuffmanTable(charFreqs)
}

// MustHuffmanTable is NewHuffmanTable for package-level initialisation.
func MustHuffmanTable() *HuffmanTable {
	t, err := NewHuffmanTable()
	if err != nil {
		panic(err)
	}
	return t
}

func buildHuffmanTable(freqs [256]uint32) (*HuffmanTable, error) {
	t := &HuffmanTable{nodes: make([]huffNode, 1, 256)}

	// Slot 0 of nodes is reserved for a copy of the root so decoding can
	// always start at index 0.
	wraps := make([]int, 256)
	for i := range t.leaves {
		t.leaves[i] = huffLeaf{weight: freqs[i] + 1, symbol: byte(i)}
		wraps[i] = -(i + 1)
	}

	for curr := len(wraps); curr != 1; curr-- {
		min1, min2 := uint32(0xfffffffe), uint32(0xffffffff)
		idx1, idx2 := -1, -1

		// Strict comparisons: on ties the earliest slot wins.
		for i := 0; i < curr; i++ {
			w := t.weight(wraps[i])
			if w < min1 {
				min2, idx2 = min1, idx1
				min1, idx1 = w, i
			} else if w < min2 {
				min2, idx2 = w, i
			}
		}
		if idx1 == -1 || idx2 == -1 || idx1 == idx2 {
			return nil, fmt.Errorf("huffman build: no merge candidates with %d entries left", curr)
		}

		t.nodes = append(t.nodes, huffNode{
			weight: t.weight(wraps[idx1]) + t.weight(wraps[idx2]),
			index0: wraps[idx1],
			index1: wraps[idx2],
		})

		merge, nuke := min(idx1, idx2), max(idx1, idx2)
		wraps[merge] = len(t.nodes) - 1
		if idx2 != curr-1 {
			wraps[nuke] = wraps[curr-1]
		}
	}

	if wraps[0] < 0 {
		return nil, fmt.Errorf("huffman build: root is a leaf")
	}
	t.nodes[0] = t.nodes[wraps[0]]

	if err := t.generateCodes(0, 0, 0); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *HuffmanTable) weight(ref int) uint32 {
	if ref < 0 {
		return t.leaves[-(ref + 1)].weight
	}
	return t.nodes[ref].weight
}

// generateCodes walks the tree assigning each leaf its root path, bit 0
// for index0 and bit 1 for index1, first step in the lowest bit.
func (t *HuffmanTable) generateCodes(ref, depth int, code uint32) error {
	if ref < 0 {
		leaf := &t.leaves[-(ref + 1)]
		leaf.code = code
		leaf.numBits = depth
		return nil
	}
	if depth >= maxCodeBits {
		return fmt.Errorf("huffman build: code longer than %d bits", maxCodeBits)
	}

	n := t.nodes[ref]
	if err := t.generateCodes(n.index0, depth+1, code); err != nil {
		return err
	}
	return t.generateCodes(n.index1, depth+1, code|1<<uint(depth))
}

// Code returns the canonical code and its length for a symbol.
func (t *HuffmanTable) Code(symbol byte) (code uint32, numBits int) {
	l := t.leaves[symbol]
	return l.code, l.numBits
}

// EncodedBits returns the compressed size of s in bits, ignoring headers.
func (t *HuffmanTable) EncodedBits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n += t.leaves[s[i]].numBits
	}
	return n
}

// encode writes s truncated to maxLen bytes. Strings that would not
// shrink are sent raw.
func (t *HuffmanTable) encode(st *Stream, s string, maxLen int) bool {
	maxLen = clampBytes(maxLen, MaxStringLen)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	n := len(s)

	if t.EncodedBits(s) >= n*8 {
		st.WriteFlag(false)
		st.WriteInt(uint32(n), 8)
		st.WriteBytes([]byte(s))
		return st.IsValid()
	}

	st.WriteFlag(true)
	st.WriteInt(uint32(n), 8)
	for i := 0; i < n; i++ {
		l := &t.leaves[s[i]]
		if !st.WriteBits(l.numBits, uint64(l.code)) {
			break
		}
	}
	return st.IsValid()
}

func (t *HuffmanTable) decode(st *Stream) (string, bool) {
	if !st.ReadFlag() {
		n := int(st.ReadInt(8))
		raw := st.ReadBytes(n)
		return string(raw), st.IsValid()
	}

	n := int(st.ReadInt(8))
	out := make([]byte, n)
	for i := 0; i < n && st.IsValid(); i++ {
		ref := 0
		for ref >= 0 {
			if st.ReadFlag() {
				ref = t.nodes[ref].index1
			} else {
				ref = t.nodes[ref].index0
			}
		}
		out[i] = t.leaves[-(ref + 1)].symbol
	}
	if !st.IsValid() {
		return "", false
	}
	return string(out), true
}
