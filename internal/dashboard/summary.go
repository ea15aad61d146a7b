// Package dashboard aggregates the prediction history for presentation and
// streams live summary updates to connected browsers over WebSocket.
package dashboard

import "loan-risk/internal/loan"

// Summarize counts labels over one history snapshot. It is pure, and
// Safe+Danger always equals Total for snapshots of valid records.
func Summarize(records []loan.PredictionRecord) loan.Summary {
	s := loan.Summary{Total: len(records)}
	for _, r := range records {
		switch r.Label {
		case loan.LabelSafe:
			s.Safe++
		case loan.LabelDanger:
			s.Danger++
		}
	}
	return s
}
