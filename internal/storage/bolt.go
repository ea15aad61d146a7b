package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"loan-risk/internal/loan"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

const predictionsBucket = "predictions"

// BoltStore keeps the history in an embedded BoltDB file. Keys come from
// the bucket sequence so cursor order is insertion order.
type BoltStore struct {
	db      *bbolt.DB
	cols    []Column
	timeout time.Duration
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string, cols []Column, timeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("open", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, storageErr("open", fmt.Errorf("failed to open database: %w", err))
	}
	return &BoltStore{db: db, cols: cols, timeout: timeout}, nil
}

func (s *BoltStore) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storageErr("init", err)
	}
	return storageErr("init", s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		return nil
	}))
}

func (s *BoltStore) Append(ctx context.Context, rec loan.PredictionRecord) error {
	if err := checkRecord(s.cols, rec); err != nil {
		return storageErr("append", err)
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return storageErr("append", fmt.Errorf("marshal record: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return storageErr("append", err)
	}

	return storageErr("append", s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		if b == nil {
			return fmt.Errorf("history not initialised")
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	}))
}

func (s *BoltStore) ScanAll(ctx context.Context) ([]loan.PredictionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []loan.PredictionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		if b == nil {
			return fmt.Errorf("history not initialised")
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec loan.PredictionRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if err := rec.Validate(); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("scan", err)
	}
	return out, nil
}

// Close closes the database gracefully. Closing twice is harmless.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
