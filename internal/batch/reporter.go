package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Reporter writes batch reports.
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes the summary, the per-row predictions and a JSON
// report into the output directory.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generatePredictions(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

func (r *Reporter) generateSummary() error {
	path := filepath.Join(r.outputPath, "batch_summary.txt")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	r.writeSummary(file)
	log.Info().Str("file", path).Msg("Summary report generated")
	return nil
}

func (r *Reporter) writeSummary(w io.Writer) {
	res := r.results
	fmt.Fprintf(w, "BATCH SCORING SUMMARY\n")
	fmt.Fprintf(w, "=====================\n\n")
	fmt.Fprintf(w, "Started: %s\n", res.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n\n", res.EndTime.Sub(res.StartTime))

	fmt.Fprintf(w, "OUTCOMES\n")
	fmt.Fprintf(w, "--------\n")
	fmt.Fprintf(w, "Applications: %d\n", res.Total)
	fmt.Fprintf(w, "Scored: %d\n", res.Scored)
	fmt.Fprintf(w, "Approved (safe): %d\n", res.Safe)
	fmt.Fprintf(w, "Rejected (danger): %d\n", res.Danger)
	fmt.Fprintf(w, "Recorded in history: %d\n", res.Persisted)
	fmt.Fprintf(w, "Failed: %d\n", res.Failed)

	if len(res.FailuresByKind) > 0 {
		kinds := make([]string, 0, len(res.FailuresByKind))
		for k := range res.FailuresByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", k, res.FailuresByKind[k])
		}
	}

	if res.Labelled > 0 {
		fmt.Fprintf(w, "\nAGREEMENT WITH EXPECTED LABELS\n")
		fmt.Fprintf(w, "------------------------------\n")
		fmt.Fprintf(w, "Labelled rows: %d\n", res.Labelled)
		fmt.Fprintf(w, "Accuracy: %.2f%%\n", res.Accuracy*100)
		fmt.Fprintf(w, "                 predicted safe  predicted danger\n")
		fmt.Fprintf(w, "expected safe    %14d  %16d\n", res.Confusion[0][0], res.Confusion[0][1])
		fmt.Fprintf(w, "expected danger  %14d  %16d\n", res.Confusion[1][0], res.Confusion[1][1])
	}

	fmt.Fprintf(w, "\nLATENCY\n")
	fmt.Fprintf(w, "-------\n")
	fmt.Fprintf(w, "Mean: %.3fms\n", res.MeanLatencyMs)
	fmt.Fprintf(w, "P95: %.3fms\n", res.P95LatencyMs)
}

func (r *Reporter) generatePredictions() error {
	path := filepath.Join(r.outputPath, "predictions.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create predictions file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	_ = writer.Write([]string{"line", "key", "label", "outcome", "expected", "record_id", "error", "field", "message"})
	for _, o := range r.results.Outcomes {
		label, expected := "", ""
		if o.Label != nil {
			label = strconv.Itoa(int(*o.Label))
		}
		if o.Expected != nil {
			expected = strconv.Itoa(int(*o.Expected))
		}
		if err := writer.Write([]string{
			strconv.Itoa(o.Line), o.Key, label, o.Outcome, expected, o.RecordID, o.ErrKind, o.Field, o.Message,
		}); err != nil {
			return fmt.Errorf("failed to write predictions: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write predictions: %w", err)
	}

	log.Info().Str("file", path).Int("rows", len(r.results.Outcomes)).Msg("Predictions written")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	path := filepath.Join(r.outputPath, "batch_report.json")
	data, err := json.MarshalIndent(r.results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	log.Info().Str("file", path).Msg("JSON report generated")
	return nil
}

// PrintSummary writes the summary to w.
func (r *Reporter) PrintSummary(w io.Writer) {
	fmt.Fprintln(w)
	r.writeSummary(w)
}
