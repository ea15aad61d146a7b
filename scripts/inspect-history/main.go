package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"loan-risk/internal/dashboard"
	"loan-risk/internal/features"
	"loan-risk/internal/storage"
)

func main() {
	var (
		backend = flag.String("backend", storage.BackendCSV, "History backend: csv, bolt, sqlite, postgres")
		path    = flag.String("path", "data/predictions.csv", "History file path (csv, bolt, sqlite)")
		dsn     = flag.String("dsn", "", "PostgreSQL connection string")
		profile = flag.String("profile", "classic", "Schema profile the history was written with")
		last    = flag.Int("last", 10, "Number of most recent records to print")
	)
	flag.Parse()

	schema, err := features.Profile(*profile)
	if err != nil {
		log.Fatalf("Unknown profile: %v", err)
	}

	fmt.Printf("Inspecting %s history: %s%s\n", *backend, *path, *dsn)

	store, err := storage.Open(storage.Options{
		Backend: *backend,
		Path:    *path,
		DSN:     *dsn,
		Columns: storage.ColumnsFor(schema.Fields(), schema.Categorical),
		Timeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to open history: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := store.ScanAll(ctx)
	if err != nil {
		log.Fatalf("Failed to read history: %v", err)
	}

	s := dashboard.Summarize(records)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Records:  %d\n", s.Total)
	fmt.Printf("Approved: %d\n", s.Safe)
	fmt.Printf("Rejected: %d\n", s.Danger)
	if len(records) > 0 {
		fmt.Printf("First:    %s\n", records[0].CreatedAt.Format(time.RFC3339))
		fmt.Printf("Last:     %s\n", records[len(records)-1].CreatedAt.Format(time.RFC3339))
	}
	fmt.Println(strings.Repeat("=", 60))

	start := len(records) - *last
	if start < 0 {
		start = 0
	}
	for _, r := range records[start:] {
		fields := make([]string, 0, len(schema.Fields()))
		for _, name := range schema.Fields() {
			if v, ok := r.Categorical[name]; ok {
				fields = append(fields, name+"="+v)
			} else {
				fields = append(fields, fmt.Sprintf("%s=%g", name, r.Numeric[name]))
			}
		}
		fmt.Printf("%s  %s  %-8s  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.ID, r.Label.Outcome(), strings.Join(fields, " "))
	}
}
