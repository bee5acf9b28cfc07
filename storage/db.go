package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key has never been written or was
// deleted.
var ErrNotFound = errors.New("storage: key not found")

// Mutation is a single write applied as part of an atomic batch.
type Mutation struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Database is the key-value store behind the liquidation state. Write must be
// atomic: every mutation of the batch becomes visible or none does.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Write(batch []Mutation) error
	Close()
}

// MemDB keeps state in a map. Used by tests and dry runs.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB returns an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.Write([]Mutation{{Key: key, Value: value}})
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Write applies the batch under a single lock acquisition.
func (db *MemDB) Write(batch []Mutation) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, m := range batch {
		if m.Delete {
			delete(db.data, string(m.Key))
			continue
		}
		db.data[string(m.Key)] = append([]byte(nil), m.Value...)
	}
	return nil
}

// Len reports the number of stored keys.
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

func (db *MemDB) Close() {}

// LevelDBOptions tunes the on-disk store.
type LevelDBOptions struct {
	// Sync forces an fsync on every committed batch.
	Sync bool
	// CacheMB sizes the block cache; zero keeps the goleveldb default.
	CacheMB int
}

// LevelDB persists state in a goleveldb directory.
type LevelDB struct {
	db    *leveldb.DB
	write *opt.WriteOptions
}

// NewLevelDB opens path with default options.
func NewLevelDB(path string) (*LevelDB, error) {
	return OpenLevelDB(path, LevelDBOptions{})
}

// OpenLevelDB creates or opens the database at path.
func OpenLevelDB(path string, opts LevelDBOptions) (*LevelDB, error) {
	options := &opt.Options{}
	if opts.CacheMB > 0 {
		options.BlockCacheCapacity = opts.CacheMB * opt.MiB
	}
	db, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db, write: &opt.WriteOptions{Sync: opts.Sync}}, nil
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, ldb.write)
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Write commits the batch through a single leveldb write.
func (ldb *LevelDB) Write(batch []Mutation) error {
	b := new(leveldb.Batch)
	for _, m := range batch {
		if m.Delete {
			b.Delete(m.Key)
			continue
		}
		b.Put(m.Key, m.Value)
	}
	return ldb.db.Write(b, ldb.write)
}

func (ldb *LevelDB) Close() {
	_ = ldb.db.Close()
}
