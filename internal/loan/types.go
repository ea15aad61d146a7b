// Package loan defines the data model shared by the scoring pipeline:
// raw and typed applications, feature representations, labels, prediction
// records and the error taxonomy surfaced at the service boundary.
package loan

import (
	"fmt"
	"time"
)

// Canonical request field names.
const (
	FieldAge             = "age"
	FieldIncome          = "income"
	FieldLoanAmount      = "loan_amount"
	FieldLoanTerm        = "loan_term"
	FieldCreditScore     = "credit_score"
	FieldDTIRatio        = "dti_ratio"
	FieldEducation       = "education"
	FieldEmployment      = "employment"
	FieldGender          = "gender"
	FieldMarried         = "married"
	FieldSelfEmployed    = "self_employed"
	FieldCreditHistory   = "credit_history"
	FieldApplicantIncome = "applicant_income"
)

// KnownFields lists every field a deployment may declare.
var KnownFields = []string{
	FieldAge, FieldIncome, FieldLoanAmount, FieldLoanTerm, FieldCreditScore,
	FieldDTIRatio, FieldEducation, FieldEmployment, FieldGender, FieldMarried,
	FieldSelfEmployed, FieldCreditHistory, FieldApplicantIncome,
}

// IsKnownField reports whether name is one of KnownFields.
func IsKnownField(name string) bool {
	for _, f := range KnownFields {
		if f == name {
			return true
		}
	}
	return false
}

// RawApplication is the untyped request as received: field name to string
// or number.
type RawApplication map[string]any

// Application is a RawApplication after schema validation. Categorical
// values are already normalised through the deployment's value maps.
type Application struct {
	Numeric     map[string]float64
	Categorical map[string]string
}

// Label is the binary risk outcome.
type Label int

const (
	LabelSafe   Label = 0 // approved
	LabelDanger Label = 1 // rejected / default
)

// Valid reports whether l is 0 or 1.
func (l Label) Valid() bool {
	return l == LabelSafe || l == LabelDanger
}

// Outcome renders the label for presentation.
func (l Label) Outcome() string {
	if l == LabelDanger {
		return "Rejected"
	}
	return "Approved"
}

// FieldKind distinguishes numeric from categorical fields.
type FieldKind string

const (
	KindNumeric     FieldKind = "numeric"
	KindCategorical FieldKind = "categorical"
)

// Field is one named, typed entry of a schema-typed record.
type Field struct {
	Name string
	Kind FieldKind
	Num  float64
	Str  string
}

// Features is the canonical model input. Vector deployments fill Vector,
// pipeline deployments fill Record; Names always matches the filled one.
type Features struct {
	Names  []string
	Vector []float64
	Record []Field
}

// Width returns the number of model inputs carried.
func (f Features) Width() int {
	if f.Record != nil {
		return len(f.Record)
	}
	return len(f.Vector)
}

// IsRecord reports whether f carries a schema-typed record.
func (f Features) IsRecord() bool {
	return f.Record != nil
}

// PredictionRecord is one persisted (input, label) pair. It is never
// mutated after creation.
type PredictionRecord struct {
	ID          string             `json:"id" msgpack:"id"`
	CreatedAt   time.Time          `json:"created_at" msgpack:"created_at"`
	Profile     string             `json:"profile" msgpack:"profile"`
	Numeric     map[string]float64 `json:"numeric" msgpack:"numeric"`
	Categorical map[string]string  `json:"categorical" msgpack:"categorical"`
	Label       Label              `json:"label" msgpack:"label"`
}

// Validate checks the invariants every store relies on.
func (r PredictionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if !r.Label.Valid() {
		return fmt.Errorf("record %s has label %d outside {0,1}", r.ID, r.Label)
	}
	return nil
}

// Summary holds dashboard counts. Safe+Danger always equals Total.
type Summary struct {
	Safe   int `json:"safe_count"`
	Danger int `json:"danger_count"`
	Total  int `json:"total_count"`
}
