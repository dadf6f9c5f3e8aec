package deletelist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

var bucketDeleteList = []byte("delete_list")

// Bolt keeps the delete list in a local bbolt file.
// The file lock means a second process blocks on open until the timeout.
type Bolt struct {
	db  *bbolt.DB
	key []byte
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path, key string) (*Bolt, error) {
	if key == "" {
		key = DefaultKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDeleteList)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Bolt{db: db, key: []byte(key)}, nil
}

// Name returns the backend identifier.
func (b *Bolt) Name() string {
	return "bolt"
}

// Load reads the record.
func (b *Bolt) Load(_ context.Context) (resource.IDSet, bool, error) {
	var (
		ids   resource.IDSet
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDeleteList).Get(b.key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &ids)
	})
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", b.key, err)
	}
	return ids, found, nil
}

// Save replaces the record.
func (b *Bolt) Save(_ context.Context, ids resource.IDSet) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal ids: %w", err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDeleteList).Put(b.key, data)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", b.key, err)
	}
	return nil
}

// Close releases the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}
