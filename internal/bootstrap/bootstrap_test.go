package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"loan-risk/internal/auth"
	"loan-risk/internal/cfg"
	"loan-risk/internal/common"
	"loan-risk/internal/loan"
	"loan-risk/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settings(t *testing.T, profile, dir, kind string) cfg.Settings {
	return cfg.Settings{
		ModelDir:       dir,
		ModelKind:      kind,
		ModelTimeout:   time.Second,
		SchemaProfile:  profile,
		HistoryBackend: storage.BackendCSV,
		HistoryPath:    filepath.Join(t.TempDir(), "predictions.csv"),
		StoreTimeout:   time.Second,
		SessionBackend: common.SessionMemory,
		SessionTTL:     time.Hour,
		AuthDisabled:   true,
	}
}

func TestModel_ShippedClassic(t *testing.T) {
	ctx := context.Background()
	s := settings(t, "classic", filepath.Join("..", "..", "models", "classic"), "linear")

	schema, err := Schema(s)
	require.NoError(t, err)
	codec, engine, err := Model(ctx, s, schema, nil)
	require.NoError(t, err)
	assert.Equal(t, "classic-lr-2024.1", engine.Metadata().Version)
	assert.Equal(t, 11, codec.Width())

	tests := []struct {
		name    string
		history string
		want    loan.Label
	}{
		{"good credit history", "1", loan.LabelSafe},
		{"no credit history", "0", loan.LabelDanger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, f, err := codec.EncodeRaw(loan.RawApplication{
				loan.FieldGender:          "Male",
				loan.FieldMarried:         "Yes",
				loan.FieldEducation:       "Graduate",
				loan.FieldSelfEmployed:    "No",
				loan.FieldCreditHistory:   tt.history,
				loan.FieldApplicantIncome: "5000",
				loan.FieldLoanAmount:      "120",
			})
			require.NoError(t, err)
			got, err := engine.Predict(ctx, f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModel_ShippedPipeline(t *testing.T) {
	ctx := context.Background()
	s := settings(t, "pipeline", filepath.Join("..", "..", "models", "pipeline"), "pipeline")

	schema, err := Schema(s)
	require.NoError(t, err)
	codec, engine, err := Model(ctx, s, schema, nil)
	require.NoError(t, err)
	require.NotNil(t, engine.Vocabulary())

	_, f, err := codec.EncodeRaw(loan.RawApplication{
		loan.FieldAge:         "35",
		loan.FieldIncome:      "60000",
		loan.FieldLoanAmount:  "10000",
		loan.FieldCreditScore: "720",
		loan.FieldDTIRatio:    "0.25",
		loan.FieldEducation:   "Graduate",
		loan.FieldEmployment:  "Employed",
	})
	require.NoError(t, err)
	got, err := engine.Predict(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, loan.LabelSafe, got)

	_, f, err = codec.EncodeRaw(loan.RawApplication{
		loan.FieldAge:         "25",
		loan.FieldIncome:      "20000",
		loan.FieldLoanAmount:  "40000",
		loan.FieldCreditScore: "520",
		loan.FieldDTIRatio:    "0.6",
		loan.FieldEducation:   "Not Graduate",
		loan.FieldEmployment:  "Unemployed",
	})
	require.NoError(t, err)
	got, err = engine.Predict(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, loan.LabelDanger, got)
}

func TestModel_MismatchedArtifact(t *testing.T) {
	// classic artifacts cannot serve the pipeline schema
	s := settings(t, "pipeline", filepath.Join("..", "..", "models", "classic"), "linear")
	schema, err := Schema(s)
	require.NoError(t, err)
	_, _, err = Model(context.Background(), s, schema, nil)
	assert.Error(t, err)
}

func TestSchema_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: branch
categorical: [education]
numeric: [income, credit_score]
order: numeric_first
scale: none
layout: record
`), 0o644))

	s := settings(t, "classic", "", "remote")
	s.SchemaFile = path
	schema, err := Schema(s)
	require.NoError(t, err)
	assert.Equal(t, "branch", schema.Name)
	assert.Equal(t, []string{"income", "credit_score", "education"}, schema.Fields())
}

func TestHistory_InitialisesBacking(t *testing.T) {
	ctx := context.Background()
	s := settings(t, "pipeline", "", "pipeline")
	schema, err := Schema(s)
	require.NoError(t, err)

	h, err := History(ctx, s, schema)
	require.NoError(t, err)
	defer h.Close()

	recs, err := h.ScanAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
	_, err = os.Stat(s.HistoryPath)
	assert.NoError(t, err)
}

func TestHistory_UnknownBackend(t *testing.T) {
	s := settings(t, "pipeline", "", "pipeline")
	s.HistoryBackend = "parquet"
	schema, err := Schema(s)
	require.NoError(t, err)
	_, err = History(context.Background(), s, schema)
	assert.Error(t, err)
}

func TestGate(t *testing.T) {
	ctx := context.Background()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	t.Run("disabled", func(t *testing.T) {
		s := settings(t, "classic", "", "linear")
		a, err := Gate(ctx, s)
		require.NoError(t, err)
		defer a.Close()
		assert.Nil(t, a.Sessions)
		assert.True(t, a.Gate.Authorized(ctx, ""))
	})

	t.Run("memory sessions", func(t *testing.T) {
		s := settings(t, "classic", "", "linear")
		s.AuthDisabled = false
		s.Users = "officer:" + hash
		a, err := Gate(ctx, s)
		require.NoError(t, err)
		defer a.Close()

		assert.False(t, a.Gate.Authorized(ctx, ""))
		token, err := a.Sessions.Login(ctx, "officer", "s3cret")
		require.NoError(t, err)
		assert.True(t, a.Gate.Authorized(ctx, token))
	})

	t.Run("redis sessions", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s := settings(t, "classic", "", "linear")
		s.AuthDisabled = false
		s.Users = "officer:" + hash
		s.SessionBackend = common.SessionRedis
		s.RedisAddr = mr.Addr()
		a, err := Gate(ctx, s)
		require.NoError(t, err)
		defer a.Close()

		token, err := a.Sessions.Login(ctx, "officer", "s3cret")
		require.NoError(t, err)
		assert.True(t, a.Gate.Authorized(ctx, token))
	})

	t.Run("malformed users", func(t *testing.T) {
		s := settings(t, "classic", "", "linear")
		s.AuthDisabled = false
		s.Users = "officer"
		_, err := Gate(ctx, s)
		assert.Error(t, err)
	})
}
