package bitvault

import "errors"

// headerSize is the on-disk size of a record header: six little-endian
// uint32 fields (time, fid, offset, ksize, vsize, crc32).
const headerSize = 24

// defaultBucket is created at Open when the database root has no bucket
// subdirectories yet.
const defaultBucket = "0"

// DefaultFileSize is the active-file rotation threshold used when Config
// does not specify one.
const DefaultFileSize int64 = 64 * 1024 * 1024

// recordHeader is the 24-byte header every record begins with. Field order
// is a compatibility surface (§6 of the spec) and must not change.
type recordHeader struct {
	Time   uint32
	Fid    uint32
	Offset uint32
	Ksize  uint32
	Vsize  uint32
	Crc32  uint32
}

// isTombstone reports whether this header describes a deletion marker
// rather than a live value.
func (h recordHeader) isTombstone() bool {
	return h.Vsize == 0
}

// descriptor is the key index's pointer to the most recent record for a
// key. Bucket is carried alongside fid/offset so a flat, bucket-unscoped
// index can still resolve a file path (see SPEC_FULL.md §3).
type descriptor struct {
	Bucket string
	Fid    uint32
	Offset uint32
	Ksize  uint32
	Vsize  uint32
	Crc32  uint32
	Time   uint32
}

var (
	// ErrKeyNotFound is returned by internal lookups; the public API
	// collapses it (and corruption) into a boolean per §7.
	ErrKeyNotFound = errors.New("bitvault: key not found")
	// ErrInvalidArgument marks empty key/value arguments.
	ErrInvalidArgument = errors.New("bitvault: key or value must be non-empty")
	// ErrBucketNotFound is returned internally when GC names an unknown bucket.
	ErrBucketNotFound = errors.New("bitvault: bucket not found")
)
