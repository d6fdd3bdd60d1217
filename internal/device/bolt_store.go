package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var devicesBucket = []byte("devices")

// BoltStore implements Store on a bbolt file. Each record is one key
// (the serial) holding the CBOR encoding of the record.
type BoltStore struct {
	db  *bolt.DB
	enc cbor.EncMode
}

// OpenBoltStore opens or creates the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(devicesBucket)
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("creating devices bucket: %w", err)
	}

	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano, Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("building cbor encoder: %w", err)
	}

	return &BoltStore{db: db, enc: enc}, nil
}

// Save replaces the record stored under its serial.
func (s *BoltStore) Save(_ context.Context, rec Record) error {
	data, err := s.enc.Marshal(toStored(rec))
	if err != nil {
		return fmt.Errorf("encoding device %s: %w", rec.Serial, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(devicesBucket).Put([]byte(rec.Serial), data)
	})
}

// LoadAll returns every stored record ordered by serial.
func (s *BoltStore) LoadAll(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(devicesBucket).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var st storedRecord
			if err := cbor.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("decoding device %s: %w", k, err)
			}
			rec, err := st.record()
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// HealthCheck verifies the file is open and the devices bucket readable.
func (s *BoltStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bolt store health check: %w", err)
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(devicesBucket) == nil {
			return fmt.Errorf("bucket %s missing", devicesBucket)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt store health check failed: %w", err)
	}
	return nil
}

// Close releases the bbolt file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
