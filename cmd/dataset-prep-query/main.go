package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"dataset-prep/internal/database"
	"dataset-prep/internal/exitcodes"
)

func main() {
	// Parse command-line flags
	dbPath := flag.String("db", "dataset-prep.db", "Path to run journal database")
	recent := flag.Int("recent", 0, "Show N most recent events")
	stats := flag.Bool("stats", false, "Show journal statistics")
	action := flag.String("action", "", "Filter by action (CREATE, EXISTS, DELETE, DRYRUN, SKIP, ERROR, LOAD)")
	pathPattern := flag.String("path", "", "Filter by path pattern (SQL LIKE syntax)")
	runID := flag.String("run", "", "Show every event of one run")
	days := flag.Int("days", 30, "Number of days for statistics (default: 30)")
	prune := flag.Int("prune", 0, "Delete events older than N days and vacuum")
	jsonOutput := flag.Bool("json", false, "Output in JSON format")
	flag.Parse()

	// Open database
	db, err := database.NewJournalDB(*dbPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open database %s: %v", *dbPath, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("ERROR: Failed to close database: %v", err)
		}
	}()

	out := os.Stdout

	// Handle different query modes
	switch {
	case *prune > 0:
		pruneOld(out, db, *prune)
	case *stats:
		showStats(out, db, *days, *jsonOutput)
	case *recent > 0:
		records, err := db.RecentEvents(*recent)
		if err != nil {
			log.Fatalf("ERROR: Failed to get recent events: %v", err)
		}
		emit(out, "", records, *jsonOutput)
	case *runID != "":
		records, err := db.EventsByRun(*runID)
		if err != nil {
			log.Fatalf("ERROR: Failed to query by run: %v", err)
		}
		emit(out, fmt.Sprintf("Events of run: %s", *runID), records, *jsonOutput)
	case *action != "":
		records, err := db.EventsByAction(*action)
		if err != nil {
			log.Fatalf("ERROR: Failed to query by action: %v", err)
		}
		emit(out, fmt.Sprintf("Records with action: %s", *action), records, *jsonOutput)
	case *pathPattern != "":
		records, err := db.EventsByPath(*pathPattern)
		if err != nil {
			log.Fatalf("ERROR: Failed to query by path: %v", err)
		}
		emit(out, fmt.Sprintf("Events matching path pattern: %s", *pathPattern), records, *jsonOutput)
	default:
		flag.Usage()
		fmt.Println("\nExamples:")
		fmt.Println("  dataset-prep-query --recent 10             # Show 10 most recent events")
		fmt.Println("  dataset-prep-query --stats                 # Show journal statistics")
		fmt.Println("  dataset-prep-query --action ERROR          # Show only failures")
		fmt.Println("  dataset-prep-query --path '/srv/prep/%'    # Show events under /srv/prep")
		fmt.Println("  dataset-prep-query --run <id>              # Replay a single run")
		fmt.Println("  dataset-prep-query --prune 90              # Drop events older than 90 days")
		os.Exit(exitcodes.InvalidConfig)
	}
}

func pruneOld(w io.Writer, db *database.JournalDB, days int) {
	n, err := db.DeleteOldRecords(days)
	if err != nil {
		log.Fatalf("ERROR: Failed to prune journal: %v", err)
	}
	if err := db.Vacuum(); err != nil {
		log.Fatalf("ERROR: Failed to vacuum journal: %v", err)
	}
	_, _ = fmt.Fprintf(w, "Removed %d events older than %d days\n", n, days)
}

func showStats(w io.Writer, db *database.JournalDB, days int, jsonOutput bool) {
	stats, err := db.Stats(days)
	if err != nil {
		log.Fatalf("ERROR: Failed to get statistics: %v", err)
	}
	writeStats(w, stats, days, jsonOutput)
}

func writeStats(w io.Writer, stats *database.EventStats, days int, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(stats, "", "  ")
		_, _ = fmt.Fprintln(w, string(data))
		return
	}

	_, _ = fmt.Fprintf(w, "Journal Statistics (Last %d days)\n", days)
	_, _ = fmt.Fprintf(w, "Period: %s to %s\n\n", stats.StartDate.Format("2006-01-02"), stats.EndDate.Format("2006-01-02"))
	_, _ = fmt.Fprintf(w, "Runs:             %d\n", stats.Runs)
	_, _ = fmt.Fprintf(w, "Dirs Created:     %d\n", stats.Created)
	_, _ = fmt.Fprintf(w, "Dirs Existing:    %d\n", stats.Existing)
	_, _ = fmt.Fprintf(w, "Dirs Removed:     %d\n", stats.Deleted)
	_, _ = fmt.Fprintf(w, "Dry Runs:         %d\n", stats.DryRuns)
	_, _ = fmt.Fprintf(w, "Skipped:          %d\n", stats.Skipped)
	_, _ = fmt.Fprintf(w, "Errors:           %d\n", stats.Errors)
	_, _ = fmt.Fprintf(w, "Space Freed:      %s\n\n", formatBytes(stats.BytesRemoved))

	if len(stats.ByAction) > 0 {
		actions := make([]string, 0, len(stats.ByAction))
		for a := range stats.ByAction {
			actions = append(actions, a)
		}
		sort.Strings(actions)

		_, _ = fmt.Fprintln(w, "By Action:")
		for _, a := range actions {
			_, _ = fmt.Fprintf(w, "  %-15s %d\n", a, stats.ByAction[a])
		}
	}
}

func emit(w io.Writer, header string, records []database.EventRecord, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(records, "", "  ")
		_, _ = fmt.Fprintln(w, string(data))
		return
	}
	if header != "" {
		_, _ = fmt.Fprintf(w, "%s\n\n", header)
	}
	printRecords(w, records)
}

func printRecords(out io.Writer, records []database.EventRecord) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, "No records found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTimestamp\tRun\tAction\tType\tSize\tPath\tError")
	_, _ = fmt.Fprintln(w, "--\t---------\t---\t------\t----\t----\t----\t-----")

	for _, r := range records {
		timestamp := r.Timestamp.Local().Format("2006-01-02 15:04:05")
		run := r.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, timestamp, run, r.Action, r.ObjectType, formatBytes(r.Size), r.Path, r.ErrorMessage)
	}
	_ = w.Flush()
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
