package bitvault

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// bucketState tracks the per-bucket file-id bookkeeping described in §3/§4.2:
// the file currently receiving appends, the largest file id ever allocated,
// and ids that are free to reuse (gaps from open-time scan, or vacated by GC).
type bucketState struct {
	name     string
	actFid   uint32
	maxFid   uint32
	freeFids map[uint32]struct{}
}

func newBucketState(name string) *bucketState {
	return &bucketState{name: name, freeFids: make(map[uint32]struct{})}
}

// bucketPath returns <root>/<bucket>.
func bucketPath(root, bucket string) string {
	return filepath.Join(root, bucket)
}

// dataFilePath returns <root>/<bucket>/<zero-pad-10>(fid).dat.
func dataFilePath(root, bucket string, fid uint32) string {
	return filepath.Join(bucketPath(root, bucket), fmt.Sprintf("%010d.dat", fid))
}

// nextEmptyFid pops an arbitrary free fid if one exists, else grows maxFid,
// and sets actFid to the result.
func (b *bucketState) nextEmptyFid() uint32 {
	for fid := range b.freeFids {
		delete(b.freeFids, fid)
		b.actFid = fid
		return b.actFid
	}
	b.maxFid++
	b.actFid = b.maxFid
	return b.actFid
}

// activeFid implements the rotation policy of §4.2: stay on the current
// active file while its size is below fileSize; once it has reached
// fileSize, roll to maxFid (if not already there) or allocate a fresh fid.
// It returns the (fid, offset) the next append should target. The size of
// the record about to be written is not considered, so an append may take a
// file past fileSize by up to one record.
func activeFid(root string, b *bucketState, fileSize int64) (uint32, int64, error) {
	for {
		path := dataFilePath(root, b.name, b.actFid)
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return b.actFid, 0, nil
		}
		if err != nil {
			return 0, 0, fmt.Errorf("bitvault: stat %s: %w", path, err)
		}
		if info.Size() >= fileSize {
			if b.actFid != b.maxFid {
				b.actFid = b.maxFid
			} else {
				b.nextEmptyFid()
			}
			continue
		}
		return b.actFid, info.Size(), nil
	}
}

// ensureBucketDir creates <root>/<bucket> if missing and fsyncs it so the
// directory entry is durable, the same belt-and-suspenders step GC takes
// after removing compacted files.
func ensureBucketDir(root, bucket string) error {
	path := bucketPath(root, bucket)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("bitvault: create bucket dir %s: %w", path, err)
	}
	return fsyncDir(path)
}

// fsyncDir fsyncs a directory's metadata so structural changes within it
// (file creation/deletion, not the file contents) survive a crash.
func fsyncDir(path string) error {
	fd, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bitvault: open dir %s for fsync: %w", path, err)
	}
	defer fd.Close()
	if err := unix.Fsync(int(fd.Fd())); err != nil {
		return fmt.Errorf("bitvault: fsync dir %s: %w", path, err)
	}
	return nil
}
