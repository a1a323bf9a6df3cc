package cmp

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Field offsets within the 1024-byte file header, mirroring the layout
// internal/core/fileheader.go documents for this reader's own container
// format (the source format does not publish exact byte offsets).
const (
	hdrOffDirty   = 0
	hdrOffIdent   = 4
	hdrOffVersion = 8
	hdrOffOtPos   = 16
	hdrOffHdrPos  = 24
	hdrOffRecPos0 = 32
	hdrOffRecPos1 = 40
	hdrOffHdrLen  = 48
	hdrOffRecLen  = 52
	hdrOffMin1    = 56
	hdrOffMax1    = 60
	hdrOffMin2    = 64
	hdrOffMax2    = 68
	hdrOffMin3    = 72
	hdrOffMax3    = 76
)

func buildFileHeader(order binary.ByteOrder, otPos, hdrPos, recPos0, recPos1 uint64, hdrLen, recLen uint32) []byte {
	buf := make([]byte, 1024)
	order.PutUint32(buf[hdrOffDirty:], 0)
	order.PutUint32(buf[hdrOffIdent:], 0xC11B)
	order.PutUint32(buf[hdrOffVersion:], 1)
	order.PutUint64(buf[hdrOffOtPos:], otPos)
	order.PutUint64(buf[hdrOffHdrPos:], hdrPos)
	order.PutUint64(buf[hdrOffRecPos0:], recPos0)
	order.PutUint64(buf[hdrOffRecPos1:], recPos1)
	order.PutUint32(buf[hdrOffHdrLen:], hdrLen)
	order.PutUint32(buf[hdrOffRecLen:], recLen)
	order.PutUint32(buf[hdrOffMin1:], 0)
	order.PutUint32(buf[hdrOffMax1:], 0)
	order.PutUint32(buf[hdrOffMin2:], 0)
	order.PutUint32(buf[hdrOffMax2:], 0)
	order.PutUint32(buf[hdrOffMin3:], 0)
	order.PutUint32(buf[hdrOffMax3:], 0)
	return buf
}

// buildRecordWithTable packs a Huffman table (symbols ascending, a
// complete prefix code of lengths 1,2,3,3) at base=600 and a canonical
// bitstream encoding symbols once, followed by zero padding. A copy of the
// first symbol sits just before the table, so base=599 cannot also read as
// a valid table (a zero byte there plus the four real symbols would tie
// base=600 and be found first). A 4-byte big-endian required-bit marker is
// placed at offset 500, inside the window the parser's required-bit
// refinement scans.
func buildRecordWithTable(requiredBitsMarker uint32) []byte {
	buf := make([]byte, 8192)
	order := binary.BigEndian

	const base = 600
	symbols := []byte{10, 20, 30, 40}
	lengths := []uint8{1, 2, 3, 3}
	copy(buf[base:base+4], symbols)
	// nibble-packed lengths, high nibble first: (1,2) then (3,3)
	buf[base+4] = lengths[0]<<4 | lengths[1]
	buf[base+5] = lengths[2]<<4 | lengths[3]
	buf[base-1] = symbols[0]

	// Canonical codes for this distribution: symbol10->"0", symbol20->"10",
	// symbol30->"110", symbol40->"111".
	bits := "0" + "10" + "110" + "111"
	var curByte byte
	var curBits int
	pos := 608 // align16(600+4+2) = 608
	for _, c := range bits {
		curByte = curByte<<1 | byte(c-'0')
		curBits++
		if curBits == 8 {
			buf[pos] = curByte
			pos++
			curByte, curBits = 0, 0
		}
	}
	if curBits > 0 {
		buf[pos] = curByte << uint(8-curBits)
	}

	order.PutUint32(buf[500:504], requiredBitsMarker)

	return buf
}

func TestReader_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	order := binary.BigEndian

	const otPos = uint64(1024)
	const n = 1
	const hdrLen = uint32(4120)
	const hdrPos = otPos + n*8
	const recPos0 = hdrPos + uint64(hdrLen)
	const recPos1 = recPos0 + 8192

	fileHeader := buildFileHeader(order, otPos, hdrPos, recPos0, recPos1, hdrLen, 8192)

	record1 := buildRecordWithTable(90000)
	record2 := make([]byte, 8192) // spillover chunk, raw bytes only

	total := make([]byte, recPos0+8192+8192)
	copy(total, fileHeader)
	order.PutUint64(total[otPos:], recPos0) // the one segment's record offset
	copy(total[hdrPos:], []byte{0xFF, 0xFE, 0x64, 0x00, 0x65, 0x00, 0x6D, 0x00, 0x6F, 0x00}) // UTF-16LE BOM + "demo"
	copy(total[recPos0:], record1)
	copy(total[recPos0+8192:], record2)

	path := filepath.Join(dir, "container.cmp")
	require.NoError(t, os.WriteFile(path, total, 0o600))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, binary.BigEndian, r.ByteOrder())

	descriptor, ok := r.Descriptor()
	require.True(t, ok)
	require.Equal(t, "demo", descriptor)

	coord, ok := r.FindFirstNonEmpty()
	require.True(t, ok)
	require.Equal(t, Coord{I1: 0, I2: 0, I3: 0}, coord)

	populated, err := r.ProbeSegment(coord)
	require.NoError(t, err)
	require.True(t, populated)

	rec, off, err := r.ReadSegment(coord)
	require.NoError(t, err)
	require.Equal(t, recPos0, off)
	require.Equal(t, 600, rec.Base)
	require.Equal(t, 4, rec.N)
	require.Equal(t, 608, rec.PayloadStartByte)
	require.Equal(t, uint64(90000), rec.RequiredBits)

	payload, err := r.AssemblePayload(rec, off)
	require.NoError(t, err)
	require.False(t, payload.Truncated)
	require.Len(t, payload.Data, 11250) // ceil(90000/8), spanning into record2

	it, err := r.DecodeSymbols(rec, payload)
	require.NoError(t, err)

	want := []byte{10, 20, 30, 40}
	for _, w := range want {
		sym, ok, decErr := it.Next()
		require.NoError(t, decErr)
		require.True(t, ok)
		require.Equal(t, w, sym)
	}
}

func TestReader_EmptySegment(t *testing.T) {
	dir := t.TempDir()
	order := binary.BigEndian

	const otPos = uint64(1024)
	const n = 1
	const hdrLen = uint32(4120)
	const hdrPos = otPos + n*8
	const recPos0 = hdrPos + uint64(hdrLen)
	const recPos1 = recPos0 + 8192

	fileHeader := buildFileHeader(order, otPos, hdrPos, recPos0, recPos1, hdrLen, 8192)

	total := make([]byte, recPos0+8192)
	copy(total, fileHeader)
	// offset table entry left at 0: the segment is empty

	path := filepath.Join(dir, "empty.cmp")
	require.NoError(t, os.WriteFile(path, total, 0o600))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.FindFirstNonEmpty()
	require.False(t, ok)

	_, _, err = r.ReadSegment(Coord{I1: 0, I2: 0, I3: 0})
	require.Error(t, err)
}
