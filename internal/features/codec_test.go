package features

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"loan-risk/internal/loan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classicEncoder() *CategoricalEncoder {
	return &CategoricalEncoder{
		Kind:     OneHot,
		Features: []string{"gender", "married", "education", "self_employed"},
		Categories: [][]string{
			{"Female", "Male"},
			{"No", "Yes"},
			{"Graduate", "Not Graduate"},
			{"No", "Yes"},
		},
	}
}

func classicScaler() *StandardScaler {
	return &StandardScaler{
		Features: []string{"credit_history", "applicant_income", "loan_amount"},
		Mean:     []float64{0.5, 5000, 150},
		Scale:    []float64{0.5, 2500, 50},
	}
}

func newClassicCodec(t *testing.T) *Codec {
	t.Helper()
	s, err := Profile("classic")
	require.NoError(t, err)
	c, err := NewCodec(s, classicEncoder(), classicScaler())
	require.NoError(t, err)
	return c
}

func classicRaw() loan.RawApplication {
	return loan.RawApplication{
		"gender":           "Male",
		"married":          "Yes",
		"education":        "Graduate",
		"self_employed":    "No",
		"credit_history":   1.0,
		"applicant_income": "7500",
		"loan_amount":      100,
	}
}

func newPipelineCodec(t *testing.T) *Codec {
	t.Helper()
	s, err := Profile("pipeline")
	require.NoError(t, err)
	c, err := NewCodec(s, nil, nil)
	require.NoError(t, err)
	vocab := &CategoricalEncoder{
		Kind:       OneHot,
		Features:   []string{"education", "employment"},
		Categories: [][]string{{"Graduate", "Not Graduate"}, {"Full-time", "Part-time", "Self-employed", "Unemployed"}},
	}
	c, err = c.WithVocabulary(vocab)
	require.NoError(t, err)
	return c
}

func pipelineRaw() loan.RawApplication {
	return loan.RawApplication{
		"age":          35,
		"income":       50000,
		"loan_amount":  10000,
		"credit_score": 700,
		"dti_ratio":    0.2,
		"education":    "Graduate",
		"employment":   "Employed",
	}
}

func TestCodec_ClassicVector(t *testing.T) {
	c := newClassicCodec(t)

	_, f, err := c.EncodeRaw(classicRaw())
	require.NoError(t, err)

	want := []float64{0, 1, 0, 1, 1, 0, 1, 0, 1, 1, -1}
	require.Len(t, f.Vector, c.Width())
	assert.Equal(t, c.Width(), 11)
	for i := range want {
		assert.InDelta(t, want[i], f.Vector[i], 1e-9, "column %d (%s)", i, f.Names[i])
	}
	assert.Equal(t, "gender=Female", f.Names[0])
	assert.Equal(t, "loan_amount", f.Names[10])
	assert.False(t, f.IsRecord())
}

func TestCodec_ScaledNumericFirstOrdinal(t *testing.T) {
	s, err := Profile("scaled")
	require.NoError(t, err)

	enc := &CategoricalEncoder{
		Kind:       Ordinal,
		Features:   []string{"education", "employment"},
		Categories: [][]string{{"Graduate", "Not Graduate"}, {"Full-time", "Part-time", "Unemployed"}},
	}
	sc := &StandardScaler{
		Features: []string{"age", "income", "loan_amount", "loan_term", "credit_score", "education", "employment"},
		Mean:     []float64{40, 0, 0, 0, 600, 0, 0},
		Scale:    []float64{10, 1, 1, 1, 100, 1, 2},
	}
	c, err := NewCodec(s, enc, sc)
	require.NoError(t, err)

	_, f, err := c.EncodeRaw(loan.RawApplication{
		"age": "30", "income": 1000, "loan_amount": 200, "loan_term": 36,
		"credit_score": 700, "education": "Not Graduate", "employment": "Unemployed",
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{-1, 1000, 200, 36, 1, 1, 1}, f.Vector)
	assert.Equal(t, []string{"age", "income", "loan_amount", "loan_term", "credit_score", "education", "employment"}, f.Names)
}

func TestCodec_EmploymentValueMap(t *testing.T) {
	c := newPipelineCodec(t)

	app, f, err := c.EncodeRaw(pipelineRaw())
	require.NoError(t, err)
	assert.Equal(t, "Full-time", app.Categorical["employment"])
	require.True(t, f.IsRecord())
	assert.Equal(t, 7, f.Width())
	assert.Equal(t, "employment", f.Record[6].Name)
	assert.Equal(t, "Full-time", f.Record[6].Str)
	assert.Equal(t, 35.0, f.Record[0].Num)

	raw := pipelineRaw()
	raw["employment"] = "Retired"
	_, _, err = c.EncodeRaw(raw)
	var ve *loan.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	assert.Equal(t, "employment", ve.Field)
}

func TestCodec_RecordVocabulary(t *testing.T) {
	c := newPipelineCodec(t)

	raw := pipelineRaw()
	raw["education"] = "PhD"
	_, _, err := c.EncodeRaw(raw)
	var ve *loan.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "education", ve.Field)
}

func TestCodec_RejectsBadInput(t *testing.T) {
	c := newClassicCodec(t)

	tests := []struct {
		name   string
		mutate func(r loan.RawApplication)
		field  string
	}{
		{"missing numeric", func(r loan.RawApplication) { delete(r, "loan_amount") }, "loan_amount"},
		{"missing categorical", func(r loan.RawApplication) { delete(r, "gender") }, "gender"},
		{"non-numeric string", func(r loan.RawApplication) { r["applicant_income"] = "lots" }, "applicant_income"},
		{"NaN string", func(r loan.RawApplication) { r["applicant_income"] = "NaN" }, "applicant_income"},
		{"numeric where string expected", func(r loan.RawApplication) { r["married"] = 1 }, "married"},
		{"empty categorical", func(r loan.RawApplication) { r["education"] = "" }, "education"},
		{"unknown field", func(r loan.RawApplication) { r["favourite_colour"] = "blue" }, "favourite_colour"},
		{"unknown category", func(r loan.RawApplication) { r["gender"] = "Other" }, "gender"},
		{"bool numeric", func(r loan.RawApplication) { r["credit_history"] = true }, "credit_history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := classicRaw()
			tt.mutate(raw)
			_, _, err := c.EncodeRaw(raw)
			var ve *loan.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCodec_NilApplication(t *testing.T) {
	c := newClassicCodec(t)
	_, _, err := c.EncodeRaw(nil)
	var ve *loan.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestCodec_WidthMatchesForValidInputs(t *testing.T) {
	c := newClassicCodec(t)

	genders := []string{"Female", "Male"}
	yesNo := []string{"No", "Yes"}
	incomes := []any{0, 1234.5, "99999", -1}

	for _, g := range genders {
		for _, m := range yesNo {
			for _, se := range yesNo {
				for _, inc := range incomes {
					raw := classicRaw()
					raw["gender"], raw["married"], raw["self_employed"], raw["applicant_income"] = g, m, se, inc
					_, f, err := c.EncodeRaw(raw)
					require.NoError(t, err)
					assert.Len(t, f.Vector, c.Width())
					for _, v := range f.Vector {
						assert.False(t, math.IsNaN(v))
					}
				}
			}
		}
	}
}

func TestNewCodec_ArtifactMismatch(t *testing.T) {
	s, err := Profile("classic")
	require.NoError(t, err)

	t.Run("encoder column order", func(t *testing.T) {
		enc := classicEncoder()
		enc.Features[0], enc.Features[1] = enc.Features[1], enc.Features[0]
		_, err := NewCodec(s, enc, classicScaler())
		assert.Error(t, err)
	})

	t.Run("scaler width", func(t *testing.T) {
		sc := classicScaler()
		sc.Features = sc.Features[:2]
		sc.Mean, sc.Scale = sc.Mean[:2], sc.Scale[:2]
		_, err := NewCodec(s, classicEncoder(), sc)
		assert.Error(t, err)
	})

	t.Run("missing encoder", func(t *testing.T) {
		_, err := NewCodec(s, nil, classicScaler())
		assert.Error(t, err)
	})

	t.Run("record layout with scaler", func(t *testing.T) {
		p, err := Profile("pipeline")
		require.NoError(t, err)
		_, err = NewCodec(p, nil, classicScaler())
		assert.Error(t, err)
	})
}

func TestLoadCodec_FromDir(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, EncoderFile), classicEncoder())
	writeJSON(t, filepath.Join(dir, ScalerFile), classicScaler())

	s, err := Profile("classic")
	require.NoError(t, err)
	c, err := LoadCodec(s, dir)
	require.NoError(t, err)
	assert.Equal(t, 11, c.Width())

	_, err = LoadCodec(s, t.TempDir())
	assert.Error(t, err, "missing artifacts must fail at load")
}

func TestLoadSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	yml := `name: branch
categorical: [education, employment]
numeric: [age, income]
order: numeric_first
layout: record
valueMaps:
  employment:
    Employed: Full-time
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	s, err := LoadSchemaFile(path)
	require.NoError(t, err)
	assert.Equal(t, "branch", s.Name)
	assert.Equal(t, ScaleNone, s.Scale)
	assert.Equal(t, []string{"age", "income", "education", "employment"}, s.Fields())

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: x\nnumeric: [shoe_size]\norder: numeric_first\n"), 0o600))
	_, err = LoadSchemaFile(bad)
	assert.Error(t, err)
}

func TestProfile_ReturnsCopy(t *testing.T) {
	a, err := Profile("pipeline")
	require.NoError(t, err)
	a.ValueMaps["employment"]["Employed"] = "tampered"
	a.Numeric[0] = "tampered"

	b, err := Profile("pipeline")
	require.NoError(t, err)
	assert.Equal(t, "Full-time", b.ValueMaps["employment"]["Employed"])
	assert.Equal(t, "age", b.Numeric[0])

	_, err = Profile("nope")
	assert.Error(t, err)
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
