package features

import (
	"errors"
	"testing"

	"loan-risk/internal/loan"
)

func TestCategoricalEncoder_OneHot(t *testing.T) {
	enc := classicEncoder()

	got, err := enc.Transform([]string{"Female", "No", "Not Graduate", "Yes"})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	want := []float64{1, 0, 1, 0, 0, 1, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("Expected %d columns, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Column %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if enc.Width() != 8 {
		t.Errorf("Expected width 8, got %d", enc.Width())
	}
}

func TestCategoricalEncoder_Ordinal(t *testing.T) {
	enc := &CategoricalEncoder{
		Kind:       Ordinal,
		Features:   []string{"education", "employment"},
		Categories: [][]string{{"Graduate", "Not Graduate"}, {"Full-time", "Part-time", "Unemployed"}},
	}

	got, err := enc.Transform([]string{"Graduate", "Unemployed"})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("Expected [0 2], got %v", got)
	}
	if names := enc.Names(); len(names) != 2 || names[1] != "employment" {
		t.Errorf("Unexpected names %v", names)
	}
}

func TestCategoricalEncoder_UnknownCategory(t *testing.T) {
	enc := classicEncoder()

	_, err := enc.Transform([]string{"Female", "Maybe", "Graduate", "No"})
	var ve *loan.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if ve.Field != "married" {
		t.Errorf("Expected field married, got %q", ve.Field)
	}
}

func TestCategoricalEncoder_WrongWidth(t *testing.T) {
	enc := classicEncoder()
	if _, err := enc.Transform([]string{"Female"}); err == nil {
		t.Error("Expected error for short row")
	}
}

func TestStandardScaler_Transform(t *testing.T) {
	sc := classicScaler()

	got, err := sc.Transform([]float64{0, 5000, 250})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	want := []float64{-1, 0, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Column %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if _, err := sc.Transform([]float64{1, 2}); err == nil {
		t.Error("Expected error for width mismatch")
	}
}

func TestStandardScaler_CheckRejectsZeroScale(t *testing.T) {
	sc := &StandardScaler{Features: []string{"a"}, Mean: []float64{0}, Scale: []float64{0}}
	if err := sc.Validate(); err == nil {
		t.Error("Expected zero scale to be rejected")
	}
}
