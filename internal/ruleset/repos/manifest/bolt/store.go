package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest"
)

var (
	bucketFiles = []byte("files")
	bucketMeta  = []byte("meta")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
)

// errCorruptEntry is returned when a stored value cannot be decoded.
var errCorruptEntry = errors.New("corrupt manifest entry")

// boltStore implements manifest.Store using bbolt.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (manifest.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFiles); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) Get(relPath string) (manifest.Entry, bool, error) {
	var (
		e     manifest.Entry
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(relPath))
		if v == nil {
			return nil
		}
		dec, err := decodeEntry(relPath, v)
		if err != nil {
			return err
		}
		e, found = dec, true
		return nil
	})
	return e, found, err
}

// Visit iterates entries in key order until visit returns false.
func (s *boltStore) Visit(visit func(manifest.Entry) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			e, err := decodeEntry(string(k), v)
			if err != nil {
				return err
			}
			if !visit(e) {
				return nil
			}
		}
		return nil
	})
}

// ReplaceAll drops every entry and writes the given snapshot plus metadata
// in one transaction, so readers see either the old or the new snapshot.
func (s *boltStore) ReplaceAll(entries []manifest.Entry, version uint64, updatedUnix int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketFiles); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketFiles)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.RelPath == "" {
				return fmt.Errorf("manifest entry without path")
			}
			if err := b.Put([]byte(e.RelPath), encodeEntry(e)); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		vbuf := make([]byte, 8)
		ubuf := make([]byte, 8)
		binary.BigEndian.PutUint64(vbuf, version)
		binary.BigEndian.PutUint64(ubuf, uint64(updatedUnix))
		if err := meta.Put(keyVersion, vbuf); err != nil {
			return err
		}
		return meta.Put(keyUpdated, ubuf)
	})
}

func (s *boltStore) Stats() manifest.StoreStats {
	st := manifest.StoreStats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketFiles); b != nil {
			st.Entries = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(keyVersion); len(v) == 8 {
				st.Version = binary.BigEndian.Uint64(v)
			}
			if v := b.Get(keyUpdated); len(v) == 8 {
				st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}

// Value layout (big endian):
//
//	[0]      rule type
//	[1:9]    rule count
//	[9:17]   updated unix
//	[17:19]  len(OutRel) = n
//	[19:19+n] OutRel
//	[19+n:]  digest
const entryHeader = 19

func encodeEntry(e manifest.Entry) []byte {
	buf := make([]byte, entryHeader, entryHeader+len(e.OutRel)+len(e.Digest))
	buf[0] = byte(e.RuleType)
	binary.BigEndian.PutUint64(buf[1:9], uint64(e.RuleCount))
	binary.BigEndian.PutUint64(buf[9:17], uint64(e.UpdatedUnix))
	binary.BigEndian.PutUint16(buf[17:19], uint16(len(e.OutRel)))
	buf = append(buf, e.OutRel...)
	return append(buf, e.Digest...)
}

func decodeEntry(relPath string, v []byte) (manifest.Entry, error) {
	if len(v) < entryHeader {
		return manifest.Entry{}, fmt.Errorf("%w: %s", errCorruptEntry, relPath)
	}
	n := int(binary.BigEndian.Uint16(v[17:19]))
	if len(v) < entryHeader+n {
		return manifest.Entry{}, fmt.Errorf("%w: %s", errCorruptEntry, relPath)
	}
	return manifest.Entry{
		RelPath:     relPath,
		OutRel:      string(v[entryHeader : entryHeader+n]),
		RuleType:    domain.RuleType(v[0]),
		RuleCount:   int(binary.BigEndian.Uint64(v[1:9])),
		UpdatedUnix: int64(binary.BigEndian.Uint64(v[9:17])),
		Digest:      string(v[entryHeader+n:]),
	}, nil
}

var _ manifest.Store = (*boltStore)(nil)
