package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"loan-risk/internal/loan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVStore_HeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.csv")
	ctx := context.Background()

	// Separate store values share nothing but the file, like separate processes.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewCSVStore(path, testColumns, time.Second)
			assert.NoError(t, s.Init(ctx))
		}()
	}
	wg.Wait()

	s := NewCSVStore(path, testColumns, time.Second)
	require.NoError(t, s.Append(ctx, testRecord(1, loan.LabelDanger)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,created_at,profile,age,income,education,employment,label", lines[0])
	assert.Equal(t, `rec-001,2024-03-01T12:00:01Z,pipeline,21,1234.5,Graduate,"Part-time, evenings",1`, lines[1])

	leftovers, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCSVStore_RejectsForeignHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,created_at,profile,gender,label\n"), 0o644))

	s := NewCSVStore(path, testColumns, time.Second)
	assert.Error(t, s.Init(context.Background()))

	_, err := s.ScanAll(context.Background())
	assert.Error(t, err)
}

func TestCSVStore_TruncatedRowIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	ctx := context.Background()
	s := NewCSVStore(path, testColumns, time.Second)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Append(ctx, testRecord(1, loan.LabelSafe)))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.WriteString("rec-002,2024-03-01T12:00:02Z,pipeline,22\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.ScanAll(ctx)
	var se *loan.StorageError
	assert.ErrorAs(t, err, &se)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := NewBoltStore(path, testColumns, time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Append(ctx, testRecord(1, loan.LabelSafe)))
	require.NoError(t, s.Append(ctx, testRecord(2, loan.LabelDanger)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, testColumns, time.Second)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Init(ctx))

	got, err := s.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rec-001", got[0].ID)
	assert.Equal(t, loan.LabelDanger, got[1].Label)
}

func TestBoltStore_AppendBeforeInit(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "history.db"), testColumns, time.Second)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Append(context.Background(), testRecord(1, loan.LabelSafe)))
}

func TestSeqKeyOrdersNumerically(t *testing.T) {
	assert.Less(t, string(seqKey(9)), string(seqKey(10)))
	assert.Less(t, string(seqKey(255)), string(seqKey(256)))
}
