package features

import (
	"fmt"
	"path/filepath"

	"loan-risk/internal/loan"

	"github.com/xeipuuv/gojsonschema"
)

// Artifact file names inside a model directory.
const (
	EncoderFile = "encoder.json"
	ScalerFile  = "scaler.json"
)

// Codec maps raw applications onto one artifact's feature contract. A Codec
// is immutable after construction and safe for concurrent use.
type Codec struct {
	schema  Schema
	shape   *gojsonschema.Schema
	encoder *CategoricalEncoder
	scaler  *StandardScaler
	vocab   *CategoricalEncoder
	names   []string
}

// NewCodec binds a schema to its fitted encoder and scaler and checks that
// their declared columns match the schema exactly.
func NewCodec(s Schema, enc *CategoricalEncoder, sc *StandardScaler) (*Codec, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.Name, err)
	}
	shape, err := compileShape(s)
	if err != nil {
		return nil, err
	}
	c := &Codec{schema: s.clone(), shape: shape}

	if s.Layout == LayoutRecord {
		if enc != nil || sc != nil {
			return nil, fmt.Errorf("schema %s: record layout takes no standalone encoder or scaler", s.Name)
		}
		c.names = s.Fields()
		return c, nil
	}

	var catNames []string
	if len(s.Categorical) > 0 {
		if enc == nil {
			return nil, fmt.Errorf("schema %s: categorical fields declared but no encoder loaded", s.Name)
		}
		if err := enc.Validate(); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
		if err := sameColumns("encoder", enc.Features, s.Categorical); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
		c.encoder = enc
		catNames = enc.Names()
	}

	if s.Order == NumericFirst {
		c.names = append(append([]string(nil), s.Numeric...), catNames...)
	} else {
		c.names = append(append([]string(nil), catNames...), s.Numeric...)
	}

	switch s.Scale {
	case ScaleNone:
		if sc != nil {
			return nil, fmt.Errorf("schema %s: scaler loaded but schema declares no scaling", s.Name)
		}
	case ScaleNumeric:
		if sc == nil {
			return nil, fmt.Errorf("schema %s: numeric scaling declared but no scaler loaded", s.Name)
		}
		if err := sameColumns("scaler", sc.Features, s.Numeric); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
	case ScaleAll:
		if sc == nil {
			return nil, fmt.Errorf("schema %s: full scaling declared but no scaler loaded", s.Name)
		}
		if err := sameColumns("scaler", sc.Features, c.names); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
	}
	if sc != nil {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
	}
	c.scaler = sc

	return c, nil
}

// LoadCodec loads encoder.json and scaler.json from dir as the schema
// requires and returns the bound codec.
func LoadCodec(s Schema, dir string) (*Codec, error) {
	var (
		enc *CategoricalEncoder
		sc  *StandardScaler
		err error
	)
	if s.Layout == LayoutVector && len(s.Categorical) > 0 {
		if enc, err = LoadEncoder(filepath.Join(dir, EncoderFile)); err != nil {
			return nil, err
		}
	}
	if s.Layout == LayoutVector && s.Scale != ScaleNone {
		if sc, err = LoadScaler(filepath.Join(dir, ScalerFile)); err != nil {
			return nil, err
		}
	}
	return NewCodec(s, enc, sc)
}

// WithVocabulary returns a copy of a record-layout codec that also rejects
// categorical values outside vocab. Pipeline artifacts carry their own
// encoder; this lets the codec fail at the boundary instead of inside it.
func (c *Codec) WithVocabulary(vocab *CategoricalEncoder) (*Codec, error) {
	if c.schema.Layout != LayoutRecord {
		return nil, fmt.Errorf("schema %s: vocabulary applies to record layout only", c.schema.Name)
	}
	if vocab == nil {
		return nil, fmt.Errorf("schema %s: nil vocabulary", c.schema.Name)
	}
	if err := sameColumns("vocabulary", vocab.Features, c.schema.Categorical); err != nil {
		return nil, fmt.Errorf("schema %s: %w", c.schema.Name, err)
	}
	cp := *c
	cp.vocab = vocab
	return &cp, nil
}

// Schema returns a copy of the bound schema.
func (c *Codec) Schema() Schema { return c.schema.clone() }

// Names returns the model input names in order.
func (c *Codec) Names() []string { return append([]string(nil), c.names...) }

// Width is the number of model inputs Encode emits.
func (c *Codec) Width() int { return len(c.names) }

// Parse validates raw and produces a typed application.
func (c *Codec) Parse(raw loan.RawApplication) (loan.Application, error) {
	if err := checkShape(c.shape, c.schema.Fields(), raw); err != nil {
		return loan.Application{}, err
	}

	app := loan.Application{
		Numeric:     make(map[string]float64, len(c.schema.Numeric)),
		Categorical: make(map[string]string, len(c.schema.Categorical)),
	}
	for _, f := range c.schema.Fields() {
		v := raw[f]
		if c.schema.isCategorical(f) {
			s, err := normalizeCategory(c.schema, f, v)
			if err != nil {
				return loan.Application{}, err
			}
			app.Categorical[f] = s
			continue
		}
		n, err := coerceNumber(f, v)
		if err != nil {
			return loan.Application{}, err
		}
		app.Numeric[f] = n
	}
	return app, nil
}

// Encode maps a typed application onto the artifact's input layout.
func (c *Codec) Encode(app loan.Application) (loan.Features, error) {
	if c.schema.Layout == LayoutRecord {
		return c.encodeRecord(app)
	}
	return c.encodeVector(app)
}

// EncodeRaw is Parse followed by Encode.
func (c *Codec) EncodeRaw(raw loan.RawApplication) (loan.Application, loan.Features, error) {
	app, err := c.Parse(raw)
	if err != nil {
		return loan.Application{}, loan.Features{}, err
	}
	f, err := c.Encode(app)
	if err != nil {
		return loan.Application{}, loan.Features{}, err
	}
	return app, f, nil
}

func (c *Codec) encodeVector(app loan.Application) (loan.Features, error) {
	var catVec []float64
	if c.encoder != nil {
		values := make([]string, len(c.schema.Categorical))
		for i, f := range c.schema.Categorical {
			v, ok := app.Categorical[f]
			if !ok {
				return loan.Features{}, loan.NewValidationError(f, "required field missing")
			}
			values[i] = v
		}
		var err error
		if catVec, err = c.encoder.Transform(values); err != nil {
			return loan.Features{}, err
		}
	}

	numVec := make([]float64, len(c.schema.Numeric))
	for i, f := range c.schema.Numeric {
		v, ok := app.Numeric[f]
		if !ok {
			return loan.Features{}, loan.NewValidationError(f, "required field missing")
		}
		numVec[i] = v
	}
	if c.schema.Scale == ScaleNumeric {
		var err error
		if numVec, err = c.scaler.Transform(numVec); err != nil {
			return loan.Features{}, err
		}
	}

	vec := make([]float64, 0, len(c.names))
	if c.schema.Order == NumericFirst {
		vec = append(append(vec, numVec...), catVec...)
	} else {
		vec = append(append(vec, catVec...), numVec...)
	}
	if c.schema.Scale == ScaleAll {
		var err error
		if vec, err = c.scaler.Transform(vec); err != nil {
			return loan.Features{}, err
		}
	}

	if len(vec) != len(c.names) {
		return loan.Features{}, loan.NewValidationError("", "encoded %d features, artifact expects %d", len(vec), len(c.names))
	}
	return loan.Features{Names: c.Names(), Vector: vec}, nil
}

func (c *Codec) encodeRecord(app loan.Application) (loan.Features, error) {
	rec := make([]loan.Field, 0, len(c.names))
	for _, f := range c.schema.Fields() {
		if c.schema.isCategorical(f) {
			v, ok := app.Categorical[f]
			if !ok {
				return loan.Features{}, loan.NewValidationError(f, "required field missing")
			}
			if c.vocab != nil && !c.vocab.Contains(f, v) {
				return loan.Features{}, loan.NewValidationError(f, "value %q is not a known category", v)
			}
			rec = append(rec, loan.Field{Name: f, Kind: loan.KindCategorical, Str: v})
			continue
		}
		v, ok := app.Numeric[f]
		if !ok {
			return loan.Features{}, loan.NewValidationError(f, "required field missing")
		}
		rec = append(rec, loan.Field{Name: f, Kind: loan.KindNumeric, Num: v})
	}

	if len(rec) != len(c.names) {
		return loan.Features{}, loan.NewValidationError("", "encoded %d fields, artifact expects %d", len(rec), len(c.names))
	}
	return loan.Features{Names: c.Names(), Record: rec}, nil
}

func sameColumns(what string, got, want []string) error {
	if len(got) != len(want) {
		return fmt.Errorf("%s fitted on %d columns %v, schema declares %d %v", what, len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%s column %d is %q, schema declares %q", what, i, got[i], want[i])
		}
	}
	return nil
}
