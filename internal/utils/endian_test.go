package utils

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockReaderAt is a mock implementation of ReaderAt for testing.
type mockReaderAt struct {
	data []byte
	err  error
}

func (m *mockReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	if m.err != nil {
		return 0, m.err
	}

	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestReadUint16(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	reader := &mockReaderAt{data: data}

	le, err := ReadUint16(reader, 0, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, uint16(0x0201), le)

	be, err := ReadUint16(reader, 0, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint16(0x0102), be)
}

func TestReadUint32(t *testing.T) {
	data := []byte{0x01, 0x00, 0x00, 0x00}
	reader := &mockReaderAt{data: data}

	v, err := ReadUint32(reader, 0, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, uint32(1), v)
}

func TestReadUint64_LittleEndian(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		offset   int64
		expected uint64
		order    binary.ByteOrder
	}{
		{
			name:     "zero value",
			data:     []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			offset:   0,
			expected: 0,
			order:    binary.LittleEndian,
		},
		{
			name:     "max value",
			data:     []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			offset:   0,
			expected: 0xFFFFFFFFFFFFFFFF,
			order:    binary.LittleEndian,
		},
		{
			name:     "with offset",
			data:     []byte{0xFF, 0xFF, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			offset:   2,
			expected: 1,
			order:    binary.LittleEndian,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &mockReaderAt{data: tt.data}
			val, err := ReadUint64(reader, tt.offset, tt.order)
			require.NoError(t, err)
			require.Equal(t, tt.expected, val)
		})
	}
}

func TestReadUint64_BigEndian(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00}
	reader := &mockReaderAt{data: data}

	val, err := ReadUint64(reader, 0, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), val)
}

func TestReadUint64_Errors(t *testing.T) {
	tests := []struct {
		name   string
		reader ReaderAt
		offset int64
	}{
		{"read error", &mockReaderAt{data: []byte{}, err: errors.New("read error")}, 0},
		{"offset beyond data", &mockReaderAt{data: []byte{0x01, 0x02}}, 100},
		{"not enough data", &mockReaderAt{data: []byte{0x01, 0x02, 0x03}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadUint64(tt.reader, tt.offset, binary.LittleEndian)
			require.Error(t, err)
		})
	}
}

func TestReadUint64_WithBytesReader(t *testing.T) {
	data := []byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0}

	reader := bytes.NewReader(data)
	val, err := ReadUint64(reader, 0, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, binary.LittleEndian.Uint64(data), val)
}

func TestReadUint64_BufferPoolIntegration(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 256)
	}

	reader := &mockReaderAt{data: data}

	for offset := int64(0); offset <= int64(len(data)-8); offset += 8 {
		val, err := ReadUint64(reader, offset, binary.LittleEndian)
		require.NoError(t, err)

		expected := binary.LittleEndian.Uint64(data[offset : offset+8])
		require.Equal(t, expected, val, "offset: %d", offset)
	}
}

func TestReadFloat64(t *testing.T) {
	want := 3.14159265
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(want))

	reader := &mockReaderAt{data: buf}
	got, err := ReadFloat64(reader, 0, binary.LittleEndian)
	require.NoError(t, err)
	require.InDelta(t, want, got, 1e-12)
}

func TestReaderAtInterface(t *testing.T) {
	t.Run("bytes.Reader", func(_ *testing.T) {
		data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
		var _ ReaderAt = bytes.NewReader(data)
	})

	t.Run("mockReaderAt", func(_ *testing.T) {
		var _ ReaderAt = &mockReaderAt{}
	})
}

func BenchmarkReadUint64(b *testing.B) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	reader := &mockReaderAt{data: data}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		offset := int64((i * 8) % (len(data) - 8))
		_, _ = ReadUint64(reader, offset, binary.LittleEndian)
	}
}
