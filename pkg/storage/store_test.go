package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, chunkSize int64) *Store {
	t.Helper()
	s, err := Open(Options{Path: ":memory:", ChunkSize: chunkSize})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()
	data := []byte{10, 20, 30, 40, 50}

	_, _, err := s.Write(ctx, "/a", 7, data)
	require.NoError(t, err)

	got, err := s.Read(ctx, "/a", 7, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOverwrite(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 10, []byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	_, _, err = s.Write(ctx, "/a", 11, []byte{99, 100})
	require.NoError(t, err)

	got, err := s.Read(ctx, "/a", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 99, 100, 4, 5}, got)
}

func TestSparse(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 1048576, []byte{42, 43, 44})
	require.NoError(t, err)

	got, err := s.Read(ctx, "/a", 1048576, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{42, 43, 44}, got)

	info, err := s.Stat(ctx, "/a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.FileSize, int64(1048579))
}

func TestChunkBoundary(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 1024, []byte{255, 254, 253})
	require.NoError(t, err)

	got, err := s.Read(ctx, "/a", 1024, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 254, 253}, got)
}

func TestGrowthMonotonicity(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 0, []byte{1, 2})
	require.NoError(t, err)
	_, _, err = s.Write(ctx, "/a", 5000, []byte{99})
	require.NoError(t, err)
	_, _, err = s.Write(ctx, "/a", 100, []byte{50})
	require.NoError(t, err)

	info, err := s.Stat(ctx, "/a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.FileSize, int64(5001))

	got, err := s.Read(ctx, "/a", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, byte(1), got[0])
	assert.Equal(t, byte(2), got[1])

	got, err = s.Read(ctx, "/a", 100, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(50), got[0])

	got, err = s.Read(ctx, "/a", 5000, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(99), got[0])
}

func TestRenameCollision(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 0, []byte{1})
	require.NoError(t, err)
	_, _, err = s.Write(ctx, "/b", 0, []byte{2})
	require.NoError(t, err)

	err = s.Rename(ctx, "/a", "/b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDestinationExist)
}

func TestUnlinkThenRead(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 0, []byte{1})
	require.NoError(t, err)
	require.NoError(t, s.Unlink(ctx, "/a"))

	_, err = s.Read(ctx, "/a", 0, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestTruncateThenStat(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 0, []byte{1, 2, 3, 4, 5})
	require.NoError(t, err)

	newSize, err := s.Truncate(ctx, "/a", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), newSize)

	info, err := s.Stat(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.FileSize)
}

func TestTruncateClipsSubsequentReads(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 0, []byte{1, 2, 3, 4, 5})
	require.NoError(t, err)

	_, err = s.Truncate(ctx, "/a", 2)
	require.NoError(t, err)

	// The chunk row still holds all five bytes, but everything past the
	// truncated file_size must read back as zero.
	got, err := s.Read(ctx, "/a", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 0, 0, 0}, got)
}

func TestLargeMultiChunk(t *testing.T) {
	const chunkSize = 1024
	s := newTestStore(t, chunkSize)
	ctx := context.Background()

	largeSize := 5*chunkSize + 500
	data := make([]byte, largeSize)
	for i := range data {
		data[i] = byte((i * 7) % 256)
	}

	_, _, err := s.Write(ctx, "/a", 0, data)
	require.NoError(t, err)

	assembled := make([]byte, 0, largeSize)
	for offset := 0; offset < largeSize; offset += chunkSize {
		n := chunkSize
		if offset+n > largeSize {
			n = largeSize - offset
		}
		got, err := s.Read(ctx, "/a", int64(offset), int64(n))
		require.NoError(t, err)
		assembled = append(assembled, got...)
	}
	assert.Equal(t, data, assembled)
}

func TestEmptyWriteAndRead(t *testing.T) {
	s := newTestStore(t, 1024)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 0, nil)
	require.NoError(t, err)

	got, err := s.Read(ctx, "/a", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadMissingChunkZeroFillsInteriorGaps(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 0, []byte{1})
	require.NoError(t, err)
	_, _, err = s.Write(ctx, "/a", 48, []byte{9})
	require.NoError(t, err)

	got, err := s.Read(ctx, "/a", 0, 49)
	require.NoError(t, err)
	assert.Equal(t, byte(1), got[0])
	assert.Equal(t, byte(9), got[48])
	for i := 1; i < 48; i++ {
		assert.Equal(t, byte(0), got[i], "byte %d should be zero-filled", i)
	}
}

func TestReadFailsWhenNoChunksInRangeAtAll(t *testing.T) {
	s := newTestStore(t, 16)
	ctx := context.Background()

	_, _, err := s.Write(ctx, "/a", 0, []byte{1})
	require.NoError(t, err)

	_, err = s.Read(ctx, "/a", 1000, 16)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestStatUnknownFile(t *testing.T) {
	s := newTestStore(t, 1024)
	_, err := s.Stat(context.Background(), "/missing")
	require.Error(t, err)
	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, classNotFound, storeErr.ErrnoClass())
}
