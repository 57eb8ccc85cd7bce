package bitvault

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.dat")

	h := recordHeader{Time: 100, Fid: 0, Offset: 0, Ksize: 3, Vsize: 5, Crc32: checksum([]byte("key"), []byte("value"))}
	require.NoError(t, writeRecord(path, h, []byte("key"), []byte("value")))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, key, value, err := readRecord(f, true)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Equal(t, "key", string(key))
	require.Equal(t, "value", string(value))
}

func TestReadRecordSkipsValueWhenNotWanted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.dat")

	h := recordHeader{Ksize: 3, Vsize: 5}
	require.NoError(t, writeRecord(path, h, []byte("key"), []byte("value")))
	require.NoError(t, writeRecord(path, recordHeader{Ksize: 3, Vsize: 3}, []byte("key"), []byte("xyz")))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, key, value, err := readRecord(f, false)
	require.NoError(t, err)
	require.Equal(t, "key", string(key))
	require.Nil(t, value)

	_, key2, value2, err := readRecord(f, true)
	require.NoError(t, err)
	require.Equal(t, "key", string(key2))
	require.Equal(t, "xyz", string(value2))
}

func TestReadRecordTombstoneHasNoValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.dat")

	h := recordHeader{Ksize: 3, Vsize: 0}
	require.NoError(t, writeRecord(path, h, []byte("key"), nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, key, value, err := readRecord(f, true)
	require.NoError(t, err)
	require.True(t, got.isTombstone())
	require.Equal(t, "key", string(key))
	require.Nil(t, value)
}

func TestReadRecordTruncatedTrailingRecordIsEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.dat")

	require.NoError(t, writeRecord(path, recordHeader{Ksize: 3, Vsize: 5}, []byte("key"), []byte("value")))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, _, _, err = readRecord(f, true)
	require.NoError(t, err)

	_, _, _, err = readRecord(f, true)
	require.ErrorIs(t, err, io.EOF)
}
