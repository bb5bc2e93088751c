package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/autotune-core/internal/database"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath    string
		signature string
		top       int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the tuning history stored in a SQLite database",
		Long: "Without --signature, lists every tuned signature with its record count and best cost.\n" +
			"With --signature, lists the best records of that signature.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			db, err := database.Open(ctx, config.DatabaseConfig{Driver: "sqlite", Path: dbPath}, log.With("component", "database"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if signature != "" {
				records, err := db.TopK(ctx, signature, top)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, records)
				}
				if len(records) == 0 {
					fmt.Fprintf(out, "No records for %s.\n", signature)
					return nil
				}
				printRecords(out, records)
				return nil
			}

			sigs, err := db.Signatures(ctx)
			if err != nil {
				return err
			}
			summaries := make([]signatureSummary, 0, len(sigs))
			for _, sig := range sigs {
				n, err := db.Count(ctx, sig)
				if err != nil {
					return err
				}
				best, err := db.TopK(ctx, sig, 1)
				if err != nil {
					return err
				}
				s := signatureSummary{Signature: sig, Records: n}
				if len(best) > 0 {
					s.TaskName = best[0].TaskName
					s.BestCost = best[0].Cost
					s.BestSchedule = best[0].ScheduleKey
				}
				summaries = append(summaries, s)
			}
			if asJSON {
				return writeJSON(out, summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No tuning history found.")
				return nil
			}
			printSignatures(out, summaries)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "autotune.db", "SQLite database file")
	cmd.Flags().StringVar(&signature, "signature", "", "Show the records of one signature")
	cmd.Flags().IntVar(&top, "top", 10, "Number of records to show with --signature")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

type signatureSummary struct {
	Signature    string  `json:"signature"`
	TaskName     string  `json:"task_name"`
	Records      int     `json:"records"`
	BestCost     float64 `json:"best_cost"`
	BestSchedule string  `json:"best_schedule"`
}

func printSignatures(w io.Writer, summaries []signatureSummary) {
	fmt.Fprintf(w, "%-20s  %-16s  %8s  %-12s\n", "TASK", "SIGNATURE", "RECORDS", "BEST")
	fmt.Fprintf(w, "%-20s  %-16s  %8s  %-12s\n",
		strings.Repeat("-", 20), strings.Repeat("-", 16), "--------", strings.Repeat("-", 12))
	for _, s := range summaries {
		fmt.Fprintf(w, "%-20s  %-16s  %8s  %-12s\n",
			truncate(s.TaskName, 20), truncate(s.Signature, 16), humanize.Comma(int64(s.Records)), formatSeconds(s.BestCost))
	}
}

func printRecords(w io.Writer, records []database.Record) {
	fmt.Fprintf(w, "%6s  %-12s  %-14s  %s\n", "ID", "COST", "RECORDED", "SCHEDULE")
	fmt.Fprintf(w, "%6s  %-12s  %-14s  %s\n", "------", strings.Repeat("-", 12), strings.Repeat("-", 14), "--------")
	for _, r := range records {
		fmt.Fprintf(w, "%6d  %-12s  %-14s  %s\n", r.ID, formatSeconds(r.Cost), humanize.Time(r.CreatedAt), r.ScheduleKey)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
