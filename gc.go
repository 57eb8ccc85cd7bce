package bitvault

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// GC compacts bucket, reclaiming the space held by tombstoned and
// superseded records (§4.4). It reports success as a bool, like every
// other public operation (§7); diagnostics go to the configured logger.
func (db *DB) GC(bucket string) bool {
	if err := db.gc(bucket); err != nil {
		db.log.WithError(err).WithField("bucket", bucket).Warn("bitvault: gc failed")
		return false
	}
	return true
}

// deleteSet holds the record positions a file's tombstones mark dead: its
// own physical offset, and the offset of the target record it shadows.
type deleteSet map[uint32]map[uint32]bool

func (d deleteSet) mark(fid, offset uint32) {
	set, ok := d[fid]
	if !ok {
		set = make(map[uint32]bool)
		d[fid] = set
	}
	set[offset] = true
}

func (d deleteSet) marked(fid, offset uint32) bool {
	return d[fid][offset]
}

func (db *DB) gc(bucket string) error {
	bs, ok := db.buckets[bucket]
	if !ok {
		return ErrBucketNotFound
	}

	table, err := collectTombstones(db.root, bucket, bs.maxFid)
	if err != nil {
		return err
	}
	if len(table) == 0 {
		return nil
	}

	bs.nextEmptyFid()

	inFids := make([]uint32, 0, len(table))
	for fid := range table {
		inFids = append(inFids, fid)
	}
	sort.Slice(inFids, func(i, j int) bool { return inFids[i] < inFids[j] })

	bucketDir := bucketPath(db.root, bucket)
	for _, inFid := range inFids {
		if err := db.rewriteSurvivors(bs, bucket, inFid, table); err != nil {
			return err
		}
		path := dataFilePath(db.root, bucket, inFid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("bitvault: gc: remove %s: %w", path, err)
		}
		bs.freeFids[inFid] = struct{}{}

		// Every fid reaching this point came from the working table, so this
		// file always had at least one record dropped (its own tombstones, or
		// records matched dead by a tombstone elsewhere) — fsync right after
		// its deletion rather than batching the durability point to the end
		// of the whole pass (§4.4).
		if err := fsyncDir(bucketDir); err != nil {
			return err
		}
	}

	return nil
}

// collectTombstones is GC's pass 1 (§4.4). It scans every file 0..maxFid of
// bucket and, for each tombstone found, marks dead both the shadowed
// target's (fid, offset) and the tombstone's own physical (fid, offset) —
// the latter so a file holding only tombstones that target other files is
// still visited and rewritten in pass 2.
func collectTombstones(root, bucket string, maxFid uint32) (deleteSet, error) {
	table := make(deleteSet)
	for fid := uint32(0); fid <= maxFid; fid++ {
		path := dataFilePath(root, bucket, fid)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("bitvault: gc: open %s: %w", path, err)
		}
		err = walkRecords(f, func(h recordHeader, offset uint32) {
			if h.Vsize == 0 {
				table.mark(h.Fid, h.Offset)
				table.mark(fid, offset)
			}
		})
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return table, nil
}

// rewriteSurvivors is GC's pass 2 for a single source file: records marked
// dead in table are dropped, live records not marked dead are rewritten
// into the bucket's (already-advanced) active file and the key index
// updated to point at their new location. Tombstones the working table
// does not mark dead for this file are simply not copied forward.
func (db *DB) rewriteSurvivors(bs *bucketState, bucket string, inFid uint32, table deleteSet) error {
	path := dataFilePath(db.root, bucket, inFid)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("bitvault: gc: open %s: %w", path, err)
	}
	defer f.Close()

	return walkRecordsWithValue(f, func(h recordHeader, offset uint32, key, value []byte) error {
		if table.marked(inFid, offset) {
			return nil
		}
		if h.Vsize == 0 {
			return nil
		}

		newFid, newOffset, err := activeFid(db.root, bs, db.fileSize)
		if err != nil {
			return err
		}
		newHeader := recordHeader{
			Time:   h.Time,
			Fid:    newFid,
			Offset: uint32(newOffset),
			Ksize:  h.Ksize,
			Vsize:  h.Vsize,
			Crc32:  h.Crc32,
		}
		if err := writeRecord(dataFilePath(db.root, bucket, newFid), newHeader, key, value); err != nil {
			return fmt.Errorf("bitvault: gc: rewrite %s: %w", string(key), err)
		}
		db.index.set(string(key), descriptor{
			Bucket: bucket,
			Fid:    newFid,
			Offset: newHeader.Offset,
			Ksize:  newHeader.Ksize,
			Vsize:  newHeader.Vsize,
			Crc32:  newHeader.Crc32,
			Time:   newHeader.Time,
		})
		return nil
	})
}

// walkRecords visits every record in f, reporting its header and its own
// physical start offset, without reading value bytes.
func walkRecords(f *os.File, fn func(h recordHeader, offset uint32)) error {
	var cursor int64
	for {
		start := cursor
		h, _, _, err := readRecord(f, false)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return nil
		}
		cursor += headerSize + int64(h.Ksize) + int64(h.Vsize)
		fn(h, uint32(start))
	}
}

// walkRecordsWithValue is walkRecords plus key/value bytes, for the
// rewrite pass.
func walkRecordsWithValue(f *os.File, fn func(h recordHeader, offset uint32, key, value []byte) error) error {
	var cursor int64
	for {
		start := cursor
		h, key, value, err := readRecord(f, true)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return nil
		}
		cursor += headerSize + int64(h.Ksize) + int64(h.Vsize)
		if err := fn(h, uint32(start), key, value); err != nil {
			return err
		}
	}
}
