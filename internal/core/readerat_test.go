package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	ctesting "github.com/scigolib/cmp/internal/testing"
	"github.com/scigolib/cmp/internal/utils"
)

// TestReadUint64_AgainstMockReaderAt spot-checks a single header field via
// the generic utils.ReaderAt path (no file or extent set involved), the
// same shape of check SelectOffsetTableBase runs against a real extent.Set.
func TestReadUint64_AgainstMockReaderAt(t *testing.T) {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[8:], 0xDEADBEEFCAFEBABE)

	r := ctesting.NewMockReaderAt(buf)

	v, err := utils.ReadUint64(r, 8, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint64(0xDEADBEEFCAFEBABE), v)
}
