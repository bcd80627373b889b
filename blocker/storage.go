package blocker

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"go.etcd.io/bbolt"
)

// StorageProvider is a key-value storage of the client state.  All methods
// must be safe for concurrent use.
type StorageProvider interface {
	// Get returns the value stored under key.  ok is false if there is none.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)

	// Set stores val under key, replacing the previous value.
	Set(ctx context.Context, key string, val []byte) (err error)

	// Delete removes the value stored under key, if any.
	Delete(ctx context.Context, key string) (err error)

	// Keys returns all keys in an unspecified order.
	Keys(ctx context.Context) (keys []string, err error)

	// Clear removes all values.
	Clear(ctx context.Context) (err error)
}

// MemoryStorage is a [StorageProvider] keeping the data in memory.
type MemoryStorage struct {
	// mu protects items.
	mu *sync.Mutex

	// items maps the keys to the values.
	items map[string][]byte
}

// NewMemoryStorage returns a new empty *MemoryStorage.
func NewMemoryStorage() (s *MemoryStorage) {
	return &MemoryStorage{
		mu:    &sync.Mutex{},
		items: map[string][]byte{},
	}
}

// type check
var _ StorageProvider = (*MemoryStorage)(nil)

// Get implements the [StorageProvider] interface for *MemoryStorage.
func (s *MemoryStorage) Get(_ context.Context, key string) (val []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok = s.items[key]

	return slices.Clone(val), ok, nil
}

// Set implements the [StorageProvider] interface for *MemoryStorage.
func (s *MemoryStorage) Set(_ context.Context, key string, val []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = slices.Clone(val)

	return nil
}

// Delete implements the [StorageProvider] interface for *MemoryStorage.
func (s *MemoryStorage) Delete(_ context.Context, key string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)

	return nil
}

// Keys implements the [StorageProvider] interface for *MemoryStorage.
func (s *MemoryStorage) Keys(_ context.Context) (keys []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Collect(maps.Keys(s.items)), nil
}

// Clear implements the [StorageProvider] interface for *MemoryStorage.
func (s *MemoryStorage) Clear(_ context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.items)

	return nil
}

// boltBucket is the name of the bbolt bucket with the client state.
const boltBucket = "reqfilter"

// BoltStorage is a [StorageProvider] keeping the data in a bbolt database.
type BoltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage opens or creates the database at path.  The returned storage
// must be closed with [BoltStorage.Close].
func NewBoltStorage(path string) (s *BoltStorage, err error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening db %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) (txErr error) {
		_, txErr = tx.CreateBucketIfNotExists([]byte(boltBucket))

		return txErr
	})
	if err != nil {
		return nil, errors.WithDeferred(fmt.Errorf("creating bucket: %w", err), db.Close())
	}

	return &BoltStorage{
		db: db,
	}, nil
}

// type check
var _ StorageProvider = (*BoltStorage)(nil)

// Get implements the [StorageProvider] interface for *BoltStorage.
func (s *BoltStorage) Get(_ context.Context, key string) (val []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) (txErr error) {
		v := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if v != nil {
			// The value is only valid during the transaction.
			val, ok = slices.Clone(v), true
		}

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("getting %q: %w", key, err)
	}

	return val, ok, nil
}

// Set implements the [StorageProvider] interface for *BoltStorage.
func (s *BoltStorage) Set(_ context.Context, key string, val []byte) (err error) {
	err = s.db.Update(func(tx *bbolt.Tx) (txErr error) {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), val)
	})

	return errors.Annotate(err, "setting %q: %w", key)
}

// Delete implements the [StorageProvider] interface for *BoltStorage.
func (s *BoltStorage) Delete(_ context.Context, key string) (err error) {
	err = s.db.Update(func(tx *bbolt.Tx) (txErr error) {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(key))
	})

	return errors.Annotate(err, "deleting %q: %w", key)
}

// Keys implements the [StorageProvider] interface for *BoltStorage.
func (s *BoltStorage) Keys(_ context.Context) (keys []string, err error) {
	err = s.db.View(func(tx *bbolt.Tx) (txErr error) {
		return tx.Bucket([]byte(boltBucket)).ForEach(func(k, _ []byte) (fErr error) {
			keys = append(keys, string(k))

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}

	return keys, nil
}

// Clear implements the [StorageProvider] interface for *BoltStorage.
func (s *BoltStorage) Clear(_ context.Context) (err error) {
	err = s.db.Update(func(tx *bbolt.Tx) (txErr error) {
		txErr = tx.DeleteBucket([]byte(boltBucket))
		if txErr != nil {
			return txErr
		}

		_, txErr = tx.CreateBucket([]byte(boltBucket))

		return txErr
	})

	return errors.Annotate(err, "clearing: %w")
}

// Close closes the database.
func (s *BoltStorage) Close() (err error) {
	return s.db.Close()
}
