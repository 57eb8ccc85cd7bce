package bitvault

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DB is a single Bitcask-style embedded key/value database instance, rooted
// at one directory on disk. It is single-threaded and non-reentrant (§5):
// callers must not invoke it concurrently from multiple goroutines.
type DB struct {
	root     string
	fileSize int64
	log      *logrus.Logger

	buckets map[string]*bucketState
	current string
	index   keyIndex
}

// Open opens (or creates) the database rooted at cfg.Dir, replaying every
// bucket's data files into a fresh key index, and returns a ready-to-use
// instance (§4.4).
func Open(cfg Config) (*DB, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("bitvault: Config.Dir is required")
	}
	if cfg.FileSize <= 0 {
		cfg.FileSize = DefaultFileSize
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("bitvault: create root dir %s: %w", cfg.Dir, err)
	}

	db := &DB{
		root:     cfg.Dir,
		fileSize: cfg.FileSize,
		log:      cfg.Logger,
		buckets:  make(map[string]*bucketState),
		index:    newKeyIndex(),
	}

	bucketNames, err := listBucketDirs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(bucketNames) == 0 {
		if err := ensureBucketDir(cfg.Dir, defaultBucket); err != nil {
			return nil, err
		}
		bucketNames = []string{defaultBucket}
	}
	sort.Strings(bucketNames)

	for _, name := range bucketNames {
		bs := newBucketState(name)
		maxFid, err := scanMaxFid(cfg.Dir, name)
		if err != nil {
			return nil, err
		}
		bs.maxFid = maxFid
		db.buckets[name] = bs
	}

	for _, name := range bucketNames {
		bs := db.buckets[name]
		if err := db.replayBucket(bs); err != nil {
			return nil, fmt.Errorf("bitvault: replay bucket %s: %w", name, err)
		}
		if _, _, err := activeFid(db.root, bs, db.fileSize); err != nil {
			return nil, err
		}
	}

	db.current = defaultBucket
	if _, ok := db.buckets[defaultBucket]; !ok {
		db.current = bucketNames[0]
	}

	db.log.WithFields(logrus.Fields{
		"dir":     cfg.Dir,
		"buckets": len(db.buckets),
		"keys":    len(db.index),
	}).Info("bitvault: opened database")

	return db, nil
}

// listBucketDirs returns the non-hidden subdirectory names of root.
func listBucketDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("bitvault: read dir %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// scanMaxFid returns the largest fid parsed from "*.dat" filenames in
// <root>/<bucket>, or 0 if the bucket directory is empty or missing.
func scanMaxFid(root, bucket string) (uint32, error) {
	path := bucketPath(root, bucket)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("bitvault: read bucket dir %s: %w", path, err)
	}
	var max uint32
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".dat") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".dat")
		fid64, err := strconv.ParseUint(base, 10, 32)
		if err != nil {
			continue
		}
		if fid := uint32(fid64); fid > max {
			max = fid
		}
	}
	return max, nil
}

// replayBucket reads every file 0..maxFid of bs in order, replaying live
// records and tombstones into db.index and recording gaps in freeFids
// (§4.4 step 2).
func (db *DB) replayBucket(bs *bucketState) error {
	for fid := uint32(0); fid <= bs.maxFid; fid++ {
		path := dataFilePath(db.root, bs.name, fid)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				if fid < bs.maxFid {
					bs.freeFids[fid] = struct{}{}
				}
				continue
			}
			return err
		}
		err = replayFile(f, func(h recordHeader, key []byte) {
			if h.Vsize > 0 {
				db.index.set(string(key), descriptor{
					Bucket: bs.name,
					Fid:    h.Fid,
					Offset: h.Offset,
					Ksize:  h.Ksize,
					Vsize:  h.Vsize,
					Crc32:  h.Crc32,
					Time:   h.Time,
				})
			} else {
				db.index.remove(string(key))
			}
		})
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// replayFile walks every well-formed record in f (header+key only, values
// are skipped) and invokes fn for each. A truncated trailing record ends
// the scan cleanly rather than propagating an error (§4.1 edge case).
func replayFile(f *os.File, fn func(recordHeader, []byte)) error {
	for {
		h, key, _, err := readRecord(f, false)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return nil
		}
		fn(h, key)
	}
}

// AllBuckets returns the names of every known bucket, sorted.
func (db *DB) AllBuckets() []string {
	names := make([]string, 0, len(db.buckets))
	for name := range db.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChangeBucket makes name the current bucket for future writes, creating
// its directory on first reference if necessary (§3). Returns false if the
// bucket's directory could not be created or its existing data files could
// not be scanned and replayed.
func (db *DB) ChangeBucket(name string) bool {
	if _, ok := db.buckets[name]; !ok {
		if err := ensureBucketDir(db.root, name); err != nil {
			db.log.WithError(err).Warn("bitvault: change bucket: failed to create bucket dir")
			return false
		}
		bs := newBucketState(name)
		maxFid, err := scanMaxFid(db.root, name)
		if err != nil {
			db.log.WithError(err).Warn("bitvault: change bucket: failed to scan")
			return false
		}
		bs.maxFid = maxFid
		if err := db.replayBucket(bs); err != nil {
			db.log.WithError(err).Warn("bitvault: change bucket: failed to replay")
			return false
		}
		if _, _, err := activeFid(db.root, bs, db.fileSize); err != nil {
			db.log.WithError(err).Warn("bitvault: change bucket: failed to select active fid")
			return false
		}
		db.buckets[name] = bs
	}
	db.current = name
	return true
}

// AllKeys enumerates every live key across all buckets (the index is
// global, §3). No ordering is guaranteed.
func (db *DB) AllKeys() []string {
	return db.index.keys()
}

// Set inserts or updates key with value, routed to the current bucket's
// active file (§4.4). Empty key or value is rejected. A write whose value
// is byte-identical to the current value is a no-op (same-value
// optimization).
func (db *DB) Set(key string, value []byte) bool {
	if err := db.set(key, value); err != nil {
		db.log.WithError(err).Warn("bitvault: set failed")
		return false
	}
	return true
}

func (db *DB) set(key string, value []byte) error {
	if key == "" || len(value) == 0 {
		return ErrInvalidArgument
	}
	bs, ok := db.buckets[db.current]
	if !ok {
		return ErrBucketNotFound
	}

	if old, ok := db.index.get(key); ok {
		same, err := sameValueOnDisk(db.root, old, value)
		if err != nil {
			db.log.WithError(err).Warn("bitvault: set: failed to read prior value, overwriting")
		} else if same {
			return nil
		}

		if err := db.writeTombstone(old, key); err != nil {
			return fmt.Errorf("bitvault: set: %w", err)
		}
	}

	fid, offset, err := activeFid(db.root, bs, db.fileSize)
	if err != nil {
		return fmt.Errorf("bitvault: set: select active file: %w", err)
	}
	h := recordHeader{
		Time:   nowUnix32(),
		Fid:    fid,
		Offset: uint32(offset),
		Ksize:  uint32(len(key)),
		Vsize:  uint32(len(value)),
		Crc32:  checksum([]byte(key), value),
	}
	if err := writeRecord(dataFilePath(db.root, bs.name, fid), h, []byte(key), value); err != nil {
		return fmt.Errorf("bitvault: set: write record: %w", err)
	}
	db.index.set(key, descriptor{
		Bucket: bs.name,
		Fid:    h.Fid,
		Offset: h.Offset,
		Ksize:  h.Ksize,
		Vsize:  h.Vsize,
		Crc32:  h.Crc32,
		Time:   h.Time,
	})
	return nil
}

// writeTombstone appends a deletion marker for target into *target.Bucket's*
// active file, not the database's current bucket. A tombstone's Fid/Offset
// are a physical coordinate into whichever bucket directory actually holds
// the shadowed record, so the tombstone must live alongside it: writing it
// into a different bucket would let GC(that bucket) misread a foreign fid as
// one of its own files and delete an unrelated live record at the same
// (fid, offset).
func (db *DB) writeTombstone(target descriptor, key string) error {
	bs, ok := db.buckets[target.Bucket]
	if !ok {
		return fmt.Errorf("bitvault: tombstone target bucket %q not found", target.Bucket)
	}
	fid, _, err := activeFid(db.root, bs, db.fileSize)
	if err != nil {
		return fmt.Errorf("bitvault: select active file for tombstone: %w", err)
	}
	tomb := recordHeader{
		Time:   nowUnix32(),
		Fid:    target.Fid,
		Offset: target.Offset,
		Ksize:  uint32(len(key)),
		Vsize:  0,
		Crc32:  target.Crc32,
	}
	if err := writeRecord(dataFilePath(db.root, bs.name, fid), tomb, []byte(key), nil); err != nil {
		return fmt.Errorf("bitvault: write tombstone: %w", err)
	}
	return nil
}

// sameValueOnDisk checks whether the value currently stored at d equals
// value, without bringing the whole record into a descriptor update.
func sameValueOnDisk(root string, d descriptor, value []byte) (bool, error) {
	path := dataFilePath(root, d.Bucket, d.Fid)
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("bitvault: open %s: %w", path, err)
	}
	defer f.Close()
	valueOffset := int64(d.Offset) + headerSize + int64(d.Ksize)
	if _, err := f.Seek(valueOffset, io.SeekStart); err != nil {
		return false, fmt.Errorf("bitvault: seek %s: %w", path, err)
	}
	buf := make([]byte, d.Vsize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return false, fmt.Errorf("bitvault: read %s: %w", path, err)
	}
	return bytes.Equal(buf, value), nil
}

// Get returns the value for key, or (nil, false) if the key is absent,
// unreadable, or fails its CRC/key integrity check (§4.4, §7).
func (db *DB) Get(key string) ([]byte, bool) {
	value, err := db.get(key)
	if err != nil {
		if err != ErrKeyNotFound {
			db.log.WithError(err).WithField("key", key).Warn("bitvault: get failed")
		}
		return nil, false
	}
	return value, true
}

func (db *DB) get(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidArgument
	}
	d, ok := db.index.get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}

	path := dataFilePath(db.root, d.Bucket, d.Fid)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bitvault: get: data file missing: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(d.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("bitvault: get: seek: %w", err)
	}
	_, rkey, rvalue, err := readRecord(f, true)
	if err != nil {
		return nil, fmt.Errorf("bitvault: get: read: %w", err)
	}
	if string(rkey) != key {
		return nil, fmt.Errorf("bitvault: get: key mismatch at %s:%d, treating as corruption", d.Bucket, d.Fid)
	}
	if checksum(rkey, rvalue) != d.Crc32 {
		return nil, fmt.Errorf("bitvault: get: crc mismatch at %s:%d, treating as corruption", d.Bucket, d.Fid)
	}
	return rvalue, nil
}

// Remove deletes key, appending a tombstone to the bucket that physically
// holds the record being shadowed. Returns false if key is empty or unknown
// (not idempotent-true, §9 note 5).
func (db *DB) Remove(key string) bool {
	if err := db.remove(key); err != nil {
		db.log.WithError(err).Warn("bitvault: remove failed")
		return false
	}
	return true
}

func (db *DB) remove(key string) error {
	if key == "" {
		return ErrInvalidArgument
	}
	d, ok := db.index.get(key)
	if !ok {
		return ErrKeyNotFound
	}

	db.index.remove(key)

	if err := db.writeTombstone(d, key); err != nil {
		return fmt.Errorf("bitvault: remove: %w", err)
	}
	return nil
}

func nowUnix32() uint32 {
	return uint32(time.Now().Unix())
}
