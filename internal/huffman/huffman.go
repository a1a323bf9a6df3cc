// Package huffman builds a canonical Huffman code table from parallel
// (symbol, length) arrays and decodes a bitstream against it. The trie is
// an arena of nodes addressed by int32 index rather than a pointer graph,
// so it stays compact and cannot form a cycle by construction.
package huffman

import (
	"errors"
	"fmt"
	"sort"

	"github.com/scigolib/cmp/internal/bitio"
	"github.com/scigolib/cmp/internal/utils"
)

// MaxCodeLength is the largest code length the format allows (4 bits of
// nibble-packed length storage per symbol, values 0..15).
const MaxCodeLength = 15

const noChild = int32(-1)

type node struct {
	left, right int32
	leaf        bool
	symbol      byte
}

// Decoder is a canonical Huffman code table plus its trie, ready to decode
// a bit cursor one symbol at a time.
type Decoder struct {
	nodes   []node
	maxLen  int
	reverse bool
}

// NewDecoder builds a canonical Huffman decoder from parallel symbols and
// lengths arrays. lengths[i] == 0 means symbols[i] does not participate in
// the code. Ties within a length are broken by ascending symbol value
// unless orderByIndex is true, in which case original array order is kept.
// reverseBits inserts each code bit-reversed, for bitstreams whose producer
// emitted canonical codes least-significant-bit first.
func NewDecoder(symbols []byte, lengths []uint8, orderByIndex, reverseBits bool) (*Decoder, error) {
	if len(symbols) != len(lengths) {
		return nil, utils.New(utils.KindInvalidCode, fmt.Sprintf("symbols/lengths length mismatch: %d vs %d", len(symbols), len(lengths)))
	}

	type entry struct {
		symbol byte
		length uint8
		index  int
	}

	entries := make([]entry, 0, len(symbols))
	var count [MaxCodeLength + 2]int
	maxLen := 0

	for i, l := range lengths {
		if l > MaxCodeLength {
			return nil, utils.New(utils.KindInvalidCode, fmt.Sprintf("code length %d exceeds max %d", l, MaxCodeLength))
		}
		if l == 0 {
			continue
		}
		entries = append(entries, entry{symbol: symbols[i], length: l, index: i})
		count[l]++
		if int(l) > maxLen {
			maxLen = int(l)
		}
	}

	if maxLen == 0 {
		return nil, utils.New(utils.KindKraftViolation, "no symbol has a non-zero code length")
	}

	// Kraft inequality: sum(2^(maxLen-L)) must not exceed 2^maxLen.
	var kraftSum uint64
	for l := 1; l <= maxLen; l++ {
		kraftSum += uint64(count[l]) << uint(maxLen-l)
	}
	if kraftSum > uint64(1)<<uint(maxLen) {
		return nil, utils.New(utils.KindKraftViolation, fmt.Sprintf("kraft sum %d exceeds 2^%d", kraftSum, maxLen))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].length != entries[j].length {
			return entries[i].length < entries[j].length
		}
		if orderByIndex {
			return entries[i].index < entries[j].index
		}
		return entries[i].symbol < entries[j].symbol
	})

	firstCode := make([]uint32, maxLen+1)
	code := uint32(0)
	for l := 1; l <= maxLen; l++ {
		code = (code + uint32(count[l-1])) << 1
		firstCode[l] = code
	}

	d := &Decoder{
		nodes:   []node{{left: noChild, right: noChild}},
		maxLen:  maxLen,
		reverse: reverseBits,
	}

	next := append([]uint32(nil), firstCode...)
	for _, e := range entries {
		c := next[e.length]
		next[e.length]++
		if reverseBits {
			c = reverseBitsN(c, e.length)
		}
		d.insert(c, e.length, e.symbol)
	}

	return d, nil
}

func reverseBitsN(v uint32, n uint8) uint32 {
	var out uint32
	for i := uint8(0); i < n; i++ {
		out = (out << 1) | (v & 1)
		v >>= 1
	}
	return out
}

func (d *Decoder) insert(code uint32, length uint8, symbol byte) {
	cur := int32(0)
	for i := int(length) - 1; i >= 0; i-- {
		bit := (code >> uint(i)) & 1
		if bit == 0 {
			if d.nodes[cur].left == noChild {
				d.nodes = append(d.nodes, node{left: noChild, right: noChild})
				d.nodes[cur].left = int32(len(d.nodes) - 1)
			}
			cur = d.nodes[cur].left
		} else {
			if d.nodes[cur].right == noChild {
				d.nodes = append(d.nodes, node{left: noChild, right: noChild})
				d.nodes[cur].right = int32(len(d.nodes) - 1)
			}
			cur = d.nodes[cur].right
		}
	}
	d.nodes[cur].leaf = true
	d.nodes[cur].symbol = symbol
}

// MaxLen returns the longest code length present in the table.
func (d *Decoder) MaxLen() int {
	return d.maxLen
}

// Decode reads one symbol from br by walking the trie bit by bit.
// InvalidCode if a branch is missing; UnexpectedEnd if the cursor runs out
// mid-symbol.
func (d *Decoder) Decode(br *bitio.Reader) (byte, error) {
	cur := int32(0)
	for {
		bit, ok := br.ReadBit()
		if !ok {
			return 0, utils.New(utils.KindUnexpectedEnd, "bit cursor exhausted mid-symbol")
		}

		if bit == 0 {
			cur = d.nodes[cur].left
		} else {
			cur = d.nodes[cur].right
		}
		if cur == noChild {
			return 0, utils.New(utils.KindInvalidCode, "decode reached an empty branch")
		}
		if d.nodes[cur].leaf {
			return d.nodes[cur].symbol, nil
		}
	}
}

// Symbols walks every leaf of the trie in left-to-right order and returns
// the set of symbols it encodes, each exactly once.
func (d *Decoder) Symbols() []byte {
	var out []byte
	var walk func(idx int32)
	walk = func(idx int32) {
		if idx == noChild {
			return
		}
		n := d.nodes[idx]
		if n.leaf {
			out = append(out, n.symbol)
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(0)
	return out
}

// SymbolIterator is a lazy, non-restartable pull-style sequence of decoded
// symbols bounded by the underlying bit cursor's remaining bits.
type SymbolIterator struct {
	dec *Decoder
	br  *bitio.Reader
}

// Iterator returns a lazy symbol sequence over br. Cancellation is by
// simply discarding the iterator; it holds no other resources.
func (d *Decoder) Iterator(br *bitio.Reader) *SymbolIterator {
	return &SymbolIterator{dec: d, br: br}
}

// Next returns the next decoded symbol, or ok=false once the cursor is
// exhausted (err is nil in that case — running out of bits at a symbol
// boundary ends the sequence, it is not a failure). A non-nil err means
// the bitstream contained an invalid code partway through a symbol.
func (it *SymbolIterator) Next() (symbol byte, ok bool, err error) {
	if it.br.Remaining() <= 0 {
		return 0, false, nil
	}

	sym, decErr := it.dec.Decode(it.br)
	if decErr != nil {
		var ce *utils.Error
		if errors.As(decErr, &ce) && ce.Kind == utils.KindUnexpectedEnd {
			return 0, false, nil
		}
		return 0, false, decErr
	}
	return sym, true, nil
}
