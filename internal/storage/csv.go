package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"loan-risk/internal/loan"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CSVStore keeps the history in one flat CSV file with a header row.
type CSVStore struct {
	path    string
	cols    []Column
	timeout time.Duration
	mu      lock
}

// NewCSVStore returns a store for the file at path.
func NewCSVStore(path string, cols []Column, timeout time.Duration) *CSVStore {
	return &CSVStore{path: path, cols: cols, timeout: timeout, mu: newLock()}
}

// Init publishes the header atomically: it is written to a private temp
// file which is then hard-linked into place. Link fails if the file already
// exists, so exactly one caller ever creates it and no reader can observe a
// file without its header.
func (s *CSVStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.mu.acquire(ctx); err != nil {
		return storageErr("init", err)
	}
	defer s.mu.release()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return storageErr("init", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		return storageErr("init", s.checkHeader())
	}

	tmp := fmt.Sprintf("%s.%s.tmp", s.path, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return storageErr("init", err)
	}
	defer os.Remove(tmp)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header(s.cols))
	w.Flush()
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return storageErr("init", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return storageErr("init", err)
	}
	if err := f.Close(); err != nil {
		return storageErr("init", err)
	}

	if err := os.Link(tmp, s.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storageErr("init", s.checkHeader())
		}
		return storageErr("init", err)
	}
	log.Info().Str("path", s.path).Msg("Created history file")
	return nil
}

func (s *CSVStore) checkHeader() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	got, err := csv.NewReader(f).Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", s.path, err)
	}
	if want := header(s.cols); !slices.Equal(got, want) {
		return fmt.Errorf("history file %s has header %v, configured layout is %v", s.path, got, want)
	}
	return nil
}

// Append writes one full line with a single write call and syncs it.
func (s *CSVStore) Append(ctx context.Context, rec loan.PredictionRecord) error {
	if err := checkRecord(s.cols, rec); err != nil {
		return storageErr("append", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(encodeRow(s.cols, rec)); err != nil {
		return storageErr("append", err)
	}
	w.Flush()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.mu.acquire(ctx); err != nil {
		return storageErr("append", err)
	}
	defer s.mu.release()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return storageErr("append", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return storageErr("append", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return storageErr("append", err)
	}
	return storageErr("append", f.Close())
}

func (s *CSVStore) ScanAll(ctx context.Context) ([]loan.PredictionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.mu.acquire(ctx); err != nil {
		return nil, storageErr("scan", err)
	}
	defer s.mu.release()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, storageErr("scan", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(s.cols) + 4
	r.ReuseRecord = true

	hdr, err := r.Read()
	if err != nil {
		return nil, storageErr("scan", fmt.Errorf("read header: %w", err))
	}
	if !slices.Equal(hdr, header(s.cols)) {
		return nil, storageErr("scan", fmt.Errorf("header %v does not match configured layout", hdr))
	}

	var out []loan.PredictionRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, storageErr("scan", err)
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, storageErr("scan", err)
		}
		rec, err := decodeRow(s.cols, row)
		if err != nil {
			return nil, storageErr("scan", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *CSVStore) Close() error { return nil }
