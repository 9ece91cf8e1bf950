package storage

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = ldberrors.ErrNotFound

// Backend abstracts the durable keyed store the ledger, registry,
// projection engine and query layer all write through. The only
// requirements are keyed get/put, atomic multi-key batches, and ordered
// range scans by key prefix.
type Backend interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Has(key string) (bool, error)
	WriteBatch(batch *Batch) error
	ScanPrefix(prefix string) Iterator
	ScanRange(start, limit string) Iterator
}

// Batch collects writes that must commit atomically (e.g. a projection
// view mutation together with its cursor advance).
type Batch struct {
	inner leveldb.Batch
}

// Put queues a write into the batch.
func (b *Batch) Put(key string, value []byte) {
	b.inner.Put([]byte(key), value)
}

// Delete queues a deletion into the batch.
func (b *Batch) Delete(key string) {
	b.inner.Delete([]byte(key))
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return b.inner.Len()
}

// Iterator walks keys in ascending key order.
type Iterator interface {
	Next() bool
	Key() string
	Value() []byte
	Release()
	Error() error
}

// Storage is the LevelDB-backed Backend used by the node.
type Storage struct {
	db *leveldb.DB
}

// NewStorage opens (or creates) the LevelDB database at path.
func NewStorage(path string) (*Storage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return &Storage{db: db}, nil
}

// Get retrieves a value by key. Returns ErrNotFound for missing keys.
func (s *Storage) Get(key string) ([]byte, error) {
	return s.db.Get([]byte(key), nil)
}

// Put stores a key-value pair.
func (s *Storage) Put(key string, value []byte) error {
	return errors.Wrapf(s.db.Put([]byte(key), value, nil), "put %s", key)
}

// Delete removes a key. Deleting a missing key is a no-op.
func (s *Storage) Delete(key string) error {
	return errors.Wrapf(s.db.Delete([]byte(key), nil), "delete %s", key)
}

// Has reports whether a key exists without reading its value.
func (s *Storage) Has(key string) (bool, error) {
	return s.db.Has([]byte(key), nil)
}

// WriteBatch commits all queued writes atomically.
func (s *Storage) WriteBatch(batch *Batch) error {
	return errors.Wrap(s.db.Write(&batch.inner, nil), "write batch")
}

// ScanPrefix returns an iterator over every key sharing the prefix, in
// ascending key order.
func (s *Storage) ScanPrefix(prefix string) Iterator {
	return &ldbIterator{it: s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)}
}

// ScanRange returns an iterator over keys in [start, limit), in
// ascending key order. Positioned scans keep replay cost proportional
// to the requested window rather than the whole keyspace.
func (s *Storage) ScanRange(start, limit string) Iterator {
	return &ldbIterator{it: s.db.NewIterator(&util.Range{Start: []byte(start), Limit: []byte(limit)}, nil)}
}

// Close releases the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

type ldbIterator struct {
	it iterator.Iterator
}

func (l *ldbIterator) Next() bool    { return l.it.Next() }
func (l *ldbIterator) Key() string   { return string(l.it.Key()) }
func (l *ldbIterator) Value() []byte { return append([]byte{}, l.it.Value()...) }
func (l *ldbIterator) Release()      { l.it.Release() }
func (l *ldbIterator) Error() error  { return l.it.Error() }
