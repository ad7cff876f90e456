package blob

// DigestIndex maps content digests to BlobRecords. It owns every record
// inserted into it; nothing else frees or re-inserts a record while it is
// linked here. The index itself is not locked: a container admits one
// writable mount at a time, and read-only mounts never mutate it.
type DigestIndex struct {
	records map[Digest]*BlobRecord
}

// NewDigestIndex returns an empty index.
func NewDigestIndex() *DigestIndex {
	return &DigestIndex{records: make(map[Digest]*BlobRecord)}
}

// Insert adds a record keyed by its digest. It fails with
// ErrDuplicateDigest if a record with that digest is already present.
func (idx *DigestIndex) Insert(rec *BlobRecord) error {
	if _, ok := idx.records[rec.Digest]; ok {
		return ErrDuplicateDigest
	}
	idx.records[rec.Digest] = rec
	return nil
}

// Lookup returns the record for a digest, if present.
func (idx *DigestIndex) Lookup(d Digest) (*BlobRecord, bool) {
	rec, ok := idx.records[d]
	return rec, ok
}

// Remove unlinks a record from the index without invalidating it. The
// caller remains responsible for the record; multi-step operations
// (staging extraction, commit merge, export rollback) unlink first and
// decide the record's fate afterwards.
func (idx *DigestIndex) Remove(rec *BlobRecord) {
	if cur, ok := idx.records[rec.Digest]; ok && cur == rec {
		delete(idx.records, rec.Digest)
	}
}

// Len returns the number of live records.
func (idx *DigestIndex) Len() int {
	return len(idx.records)
}

// ForEach calls fn for every record. fn must not insert or remove
// records other than the one it was handed.
func (idx *DigestIndex) ForEach(fn func(*BlobRecord) error) error {
	for _, rec := range idx.records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
