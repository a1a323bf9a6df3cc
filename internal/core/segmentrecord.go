package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/scigolib/cmp/internal/bitio"
	"github.com/scigolib/cmp/internal/huffman"
	"github.com/scigolib/cmp/internal/utils"
)

// RecordSize is the fixed size of a segment record.
const RecordSize = 8192

// Fixed Huffman table layout, per the open questions in the design notes:
// current producers emit only this form.
const (
	LayoutSymLen          = "SYM_LEN"
	LensEncodingNibbleHiLo = "NIBBLE_HI_LO"
)

const (
	minTableBase = 256
	maxTableBase = 1024
	minSymbols   = 2
	maxSymbols   = 64
	probeBytes   = 256
	probeSymbols = 64
)

// SegmentRecord is the parsed content of one 8192-byte record: its
// metadata block, detected Huffman table, and the start of its bitstream.
type SegmentRecord struct {
	MinDelta, MaxDelta         float64
	QuantDeltas, BlockSizeBits [64]uint16
	MetadataRequiredBits       uint64

	Base              int
	N                 int
	Symbols           []byte
	Lengths           []uint8
	Layout            string
	LensEncoding      string
	PayloadStartByte  int
	RequiredBits      uint64
	DetectedBitConfig bitio.Config

	PayloadSlice []byte // buf[PayloadStartByte:RecordSize], borrowed from the input buffer
}

// ParseSegmentRecord runs the three phases of §4.3 over an 8192-byte
// record buffer: metadata decode, brute-force Huffman-table detection
// (validated by Kraft and a prefix probe), and required-bit refinement.
func ParseSegmentRecord(buf []byte, order binary.ByteOrder, recordOffset uint64) (*SegmentRecord, error) {
	if len(buf) != RecordSize {
		return nil, utils.New(utils.KindShortRead, fmt.Sprintf("segment record buffer is %d bytes, want %d", len(buf), RecordSize))
	}

	rec := &SegmentRecord{}
	rec.MinDelta = math.Float64frombits(order.Uint64(buf[0:8]))
	rec.MaxDelta = math.Float64frombits(order.Uint64(buf[8:16]))
	for i := 0; i < 64; i++ {
		rec.QuantDeltas[i] = order.Uint16(buf[16+i*2:])
	}
	var sum uint64
	for i := 0; i < 64; i++ {
		v := order.Uint16(buf[144+i*2:])
		rec.BlockSizeBits[i] = v
		sum += uint64(v)
	}
	rec.MetadataRequiredBits = sum

	best, err := detectHuffmanTable(buf, order)
	if err != nil {
		fp := xxhash.Sum64(buf)
		return nil, utils.New(utils.KindTableNotFound, fmt.Sprintf("record at offset %d: no candidate passed (best score %d, fingerprint %016x)", recordOffset, best.score, fp))
	}

	rec.Base = best.base
	rec.N = best.n
	rec.Symbols = best.symbols
	rec.Lengths = best.lengths
	rec.Layout = LayoutSymLen
	rec.LensEncoding = LensEncodingNibbleHiLo
	rec.PayloadStartByte = best.payloadStart
	rec.DetectedBitConfig = best.cfg
	rec.PayloadSlice = buf[best.payloadStart:RecordSize]

	rec.RequiredBits = refineRequiredBits(buf, order, best.payloadStart)

	return rec, nil
}

type tableCandidate struct {
	base, n      int
	symbols      []byte
	lengths      []uint8
	payloadStart int
	score        int
	cfg          bitio.Config
}

// detectHuffmanTable brute-forces base in [256,1024) and N in [2,64],
// validating each candidate and probing it against the tentative payload,
// keeping the highest-scoring candidate (ties favor the smaller
// payload_start_byte).
func detectHuffmanTable(buf []byte, order binary.ByteOrder) (tableCandidate, error) {
	var best tableCandidate
	found := false

	for base := minTableBase; base < maxTableBase; base++ {
		for n := minSymbols; n <= maxSymbols; n++ {
			lenBytes := (n + 1) / 2
			if base+n+lenBytes > len(buf) {
				continue
			}

			symbols := buf[base : base+n]
			if !pairwiseDistinct(symbols) {
				continue
			}

			lengths := unpackNibbleLengths(buf[base+n:base+n+lenBytes], n)

			nonZero := 0
			maxLen := 0
			for _, l := range lengths {
				if l > 15 {
					continue
				}
				if l > 0 {
					nonZero++
				}
				if int(l) > maxLen {
					maxLen = int(l)
				}
			}
			if nonZero < 2 {
				continue
			}
			if !kraftHolds(lengths, maxLen) {
				continue
			}

			payloadStart := align16(base + n + lenBytes)
			if payloadStart < 512 || payloadStart >= RecordSize {
				continue
			}

			cfg, ok := prefixProbe(symbols, lengths, buf, payloadStart)
			if !ok {
				continue
			}

			score := candidateScore(n, lengths, maxLen, nonZero, payloadStart)

			if !found || score > best.score || (score == best.score && payloadStart < best.payloadStart) {
				best = tableCandidate{
					base: base, n: n,
					symbols: append([]byte(nil), symbols...),
					lengths: lengths, payloadStart: payloadStart,
					score: score, cfg: cfg,
				}
				found = true
			}
		}
	}

	if !found {
		return best, utils.New(utils.KindTableNotFound, "no candidate passed detection")
	}
	return best, nil
}

func candidateScore(n int, lengths []uint8, maxLen, nonZero, payloadStart int) int {
	score := 0
	if n >= 3 {
		score += 3
	}
	if payloadStart%16 == 0 {
		score++
	}
	if maxLen > 8 {
		score += 8
	} else {
		score += maxLen
	}
	score += nonZero
	if n >= 32 && n <= 48 {
		score += 4
	}
	return score
}

func pairwiseDistinct(symbols []byte) bool {
	seen := make(map[byte]bool, len(symbols))
	for _, s := range symbols {
		if seen[s] {
			return false
		}
		seen[s] = true
	}
	return true
}

// unpackNibbleLengths decodes n 4-bit code lengths, high-nibble first.
func unpackNibbleLengths(packed []byte, n int) []uint8 {
	lengths := make([]uint8, n)
	for i := 0; i < n; i++ {
		b := packed[i/2]
		if i%2 == 0 {
			lengths[i] = b >> 4
		} else {
			lengths[i] = b & 0x0F
		}
	}
	return lengths
}

// kraftHolds checks Σ 2^(maxLen-L) <= 2^maxLen over non-zero lengths.
func kraftHolds(lengths []uint8, maxLen int) bool {
	if maxLen == 0 {
		return false
	}
	var sum uint64
	for _, l := range lengths {
		if l == 0 {
			continue
		}
		sum += uint64(1) << uint(maxLen-int(l))
	}
	return sum <= uint64(1)<<uint(maxLen)
}

func align16(x int) int {
	return (x + 15) &^ 15
}

// prefixProbe builds a canonical decoder from the candidate table and
// attempts to decode up to 64 symbols from the first up to 256 bytes of
// the tentative payload under each of the 16 bit configurations. Returns
// the first configuration that passes.
func prefixProbe(symbols []byte, lengths []uint8, buf []byte, payloadStart int) (bitio.Config, bool) {
	dec, err := huffman.NewDecoder(symbols, lengths, false, false)
	if err != nil {
		return bitio.Config{}, false
	}

	end := payloadStart + probeBytes
	if end > len(buf) {
		end = len(buf)
	}
	payload := buf[payloadStart:end]

	for _, cfg := range bitio.AllConfigs() {
		br := bitio.NewReader(payload, 8*len(payload), cfg)

		decoded := 0
		distinct := make(map[byte]bool)
		for i := 0; i < probeSymbols; i++ {
			sym, decErr := dec.Decode(br)
			if decErr != nil {
				break
			}
			decoded++
			distinct[sym] = true
		}

		if decoded >= 32 && len(distinct) >= 4 {
			return cfg, true
		}
	}

	return bitio.Config{}, false
}

// refineRequiredBits implements §4.3 phase 3: scan every 4-byte window in
// [payloadStart-512, payloadStart) for a plausible required-bit count.
func refineRequiredBits(buf []byte, order binary.ByteOrder, payloadStart int) uint64 {
	availableBits := uint64(RecordSize-payloadStart) * 8

	cap64 := uint64(utils.HardCapBits)
	if uint64(utils.SoftCapBits) < cap64 {
		cap64 = uint64(utils.SoftCapBits)
	}

	start := payloadStart - 512
	if start < 0 {
		start = 0
	}

	for off := start; off+4 <= payloadStart; off++ {
		v := uint64(order.Uint32(buf[off : off+4]))
		if v > availableBits && v <= cap64 {
			return v
		}
	}

	fallback := availableBits + 44000
	if fallback > cap64 {
		fallback = cap64
	}
	return fallback
}
