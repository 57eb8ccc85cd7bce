package bitvault

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActiveFidStartsAtZeroForEmptyBucket(t *testing.T) {
	root := t.TempDir()
	bs := newBucketState("b")

	fid, offset, err := activeFid(root, bs, 1024)
	require.NoError(t, err)
	require.Equal(t, uint32(0), fid)
	require.Equal(t, int64(0), offset)
}

func TestActiveFidRotatesWhenThresholdExceeded(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, ensureBucketDir(root, "b"))
	bs := newBucketState("b")

	path := dataFilePath(root, "b", 0)
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0644))

	fid, offset, err := activeFid(root, bs, 50)
	require.NoError(t, err)
	require.Equal(t, uint32(1), fid)
	require.Equal(t, int64(0), offset)
	require.Equal(t, uint32(1), bs.maxFid)
}

func TestActiveFidReusesFreeFid(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, ensureBucketDir(root, "b"))
	bs := newBucketState("b")
	bs.maxFid = 3
	bs.actFid = 3
	bs.freeFids[1] = struct{}{}

	path := dataFilePath(root, "b", 3)
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0644))

	fid, _, err := activeFid(root, bs, 50)
	require.NoError(t, err)
	require.Equal(t, uint32(1), fid)
	require.NotContains(t, bs.freeFids, uint32(1))
}

func TestNextEmptyFidGrowsMaxFidWhenNoFreeOnesExist(t *testing.T) {
	bs := newBucketState("b")
	bs.maxFid = 5

	fid := bs.nextEmptyFid()
	require.Equal(t, uint32(6), fid)
	require.Equal(t, uint32(6), bs.maxFid)
}

func TestDataFilePathIsZeroPadded(t *testing.T) {
	path := dataFilePath("/root", "bucket", 7)
	require.Equal(t, "/root/bucket/0000000007.dat", path)
}
