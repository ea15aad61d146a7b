package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"strconv"

	"loan-risk/internal/features"
	"loan-risk/internal/loan"
)

func main() {
	var (
		outPath = flag.String("out", "data/applications.csv", "Output CSV path")
		profile = flag.String("profile", "pipeline", "Schema profile: "+fmt.Sprint(features.ProfileNames()))
		count   = flag.Int("n", 500, "Number of applications to generate")
		seed    = flag.Int64("seed", 1, "Random seed")
	)
	flag.Parse()

	schema, err := features.Profile(*profile)
	if err != nil {
		log.Fatalf("Unknown profile: %v", err)
	}

	fmt.Printf("Generating sample applications...\n")
	fmt.Printf("  Profile: %s\n", schema.Name)
	fmt.Printf("  Count: %d\n", *count)
	fmt.Printf("  Output: %s\n", *outPath)

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	defer f.Close()

	rng := rand.New(rand.NewSource(*seed))
	w := csv.NewWriter(f)

	fields := schema.Fields()
	header := append([]string{"id"}, fields...)
	if err := w.Write(append(header, "expected")); err != nil {
		log.Fatalf("Failed to write header: %v", err)
	}

	danger := 0
	for i := 0; i < *count; i++ {
		app := generateApplication(rng)
		label := riskLabel(app)
		if label == loan.LabelDanger {
			danger++
		}

		row := make([]string, 0, len(header)+1)
		row = append(row, fmt.Sprintf("APP-%05d", i+1))
		for _, name := range fields {
			row = append(row, app[name])
		}
		if err := w.Write(append(row, strconv.Itoa(int(label)))); err != nil {
			log.Fatalf("Failed to write row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("Failed to flush output: %v", err)
	}

	fmt.Printf("✓ Generated %d applications (%d expected rejections)\n", *count, danger)
}

// generateApplication draws every known field so one generator serves all
// profiles. Values follow loosely realistic marginals.
func generateApplication(rng *rand.Rand) map[string]string {
	age := clamp(rng.NormFloat64()*11+40, 21, 75)
	income := math.Max(8000, math.Exp(rng.NormFloat64()*0.45+10.9))
	amount := math.Max(1000, rng.NormFloat64()*9000+15000)
	score := clamp(rng.NormFloat64()*70+680, 300, 850)
	dti := clamp(rng.NormFloat64()*0.15+0.3, 0.01, 0.95)

	employment := pick(rng, []string{"Employed", "Employed", "Employed", "Part-time", "Self-employed", "Unemployed"})
	creditHistory := "1"
	if rng.Float64() < 0.16 {
		creditHistory = "0"
	}

	return map[string]string{
		loan.FieldAge:             strconv.Itoa(int(age)),
		loan.FieldIncome:          strconv.Itoa(int(income)),
		loan.FieldLoanAmount:      strconv.Itoa(int(amount)),
		loan.FieldLoanTerm:        pick(rng, []string{"120", "180", "240", "360"}),
		loan.FieldCreditScore:     strconv.Itoa(int(score)),
		loan.FieldDTIRatio:        strconv.FormatFloat(math.Round(dti*100)/100, 'f', 2, 64),
		loan.FieldEducation:       pick(rng, []string{"Graduate", "Graduate", "Not Graduate"}),
		loan.FieldEmployment:      employment,
		loan.FieldGender:          pick(rng, []string{"Male", "Male", "Female"}),
		loan.FieldMarried:         pick(rng, []string{"Yes", "Yes", "No"}),
		loan.FieldSelfEmployed:    boolString(employment == "Self-employed"),
		loan.FieldCreditHistory:   creditHistory,
		loan.FieldApplicantIncome: strconv.Itoa(int(income / 12)),
	}
}

// riskLabel is the ground truth written to the expected column.
func riskLabel(app map[string]string) loan.Label {
	score, _ := strconv.Atoi(app[loan.FieldCreditScore])
	dti, _ := strconv.ParseFloat(app[loan.FieldDTIRatio], 64)
	switch {
	case app[loan.FieldCreditHistory] == "0":
		return loan.LabelDanger
	case score < 600, dti > 0.55:
		return loan.LabelDanger
	case app[loan.FieldEmployment] == "Unemployed" && score < 700:
		return loan.LabelDanger
	default:
		return loan.LabelSafe
	}
}

func pick(rng *rand.Rand, opts []string) string {
	return opts[rng.Intn(len(opts))]
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func boolString(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
