package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/autotune-core/internal/costmodel"
	"github.com/GoSim-25-26J-441/autotune-core/internal/database"
	"github.com/GoSim-25-26J-441/autotune-core/internal/metrics"
	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
	"github.com/GoSim-25-26J-441/autotune-core/internal/tuning"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
)

// costModelName is the key the shared cost model is stored under
const costModelName = "expr_cost_model"

type tuneFlags struct {
	config       string
	rounds       int
	population   int
	quota        int
	seed         int64
	dbPath       string
	measurer     string
	measurerAddr string
	noWarmStart  bool
	asJSON       bool
	showFunc     bool
}

func newTuneCmd() *cobra.Command {
	var f tuneFlags

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Tune every task of a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(f.config)
			if err != nil {
				return err
			}
			if err := applyTuneFlags(cmd, cfg, f); err != nil {
				return err
			}
			return runTune(cmd, cfg, f)
		},
	}

	cmd.Flags().StringVarP(&f.config, "config", "c", "", "Tuning configuration file (YAML)")
	cmd.Flags().IntVar(&f.rounds, "rounds", 0, "Override tuning.num_rounds")
	cmd.Flags().IntVar(&f.population, "population", 0, "Override tuning.population_size")
	cmd.Flags().IntVar(&f.quota, "quota", 0, "Override tuning.measure_quota_per_round")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Override tuning.seed")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "Store history in this SQLite file instead of the configured database")
	cmd.Flags().StringVar(&f.measurer, "measurer", "", "Override measurer.kind (sim, local, remote)")
	cmd.Flags().StringVar(&f.measurerAddr, "measurer-addr", "", "Override measurer.address")
	cmd.Flags().BoolVar(&f.noWarmStart, "no-warm-start", false, "Ignore the stored history when seeding the search")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&f.showFunc, "show-func", false, "Print the best function of every task")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// applyTuneFlags folds explicitly set flags into cfg and revalidates the result
func applyTuneFlags(cmd *cobra.Command, cfg *config.Config, f tuneFlags) error {
	flags := cmd.Flags()
	if flags.Changed("rounds") {
		cfg.Tuning.NumRounds = f.rounds
	}
	if flags.Changed("population") {
		cfg.Tuning.PopulationSize = f.population
	}
	if flags.Changed("quota") {
		cfg.Tuning.MeasureQuotaPerRound = f.quota
	}
	if flags.Changed("seed") {
		cfg.Tuning.Seed = f.seed
	}
	if flags.Changed("db") {
		cfg.Database = config.DatabaseConfig{Driver: "sqlite", Path: f.dbPath}
	}
	if flags.Changed("measurer") {
		cfg.Measurer.Kind = f.measurer
	}
	if flags.Changed("measurer-addr") {
		cfg.Measurer.Address = f.measurerAddr
	}
	if f.noWarmStart {
		cfg.Tuning.EnableWarmStart = false
	}
	if !cmd.Flags().Changed("log-level") && !flagDebug {
		log = logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
		logger.SetDefault(log)
	}
	if cfg.Measurer.Kind == "remote" && cfg.Measurer.Address == "" {
		return fmt.Errorf("remote measurer requires --measurer-addr or measurer.address")
	}
	return cfg.Tuning.Validate()
}

func runTune(cmd *cobra.Command, cfg *config.Config, f tuneFlags) error {
	ctx := cmd.Context()

	tasks, err := task.FromConfig(cfg)
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, cfg.Database, log.With("component", "database"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	m, closeMeasurer, err := buildMeasurer(cfg.Measurer, cfg.Tuning.Seed, cfg.Tuning.MeasureQuotaPerRound, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeMeasurer(); err != nil {
			log.Warn("failed to close measurer", "error", err)
		}
	}()

	model := costmodel.NewExprCostModel()
	store, persistModel := db.(database.ModelStore)
	if persistModel {
		data, err := store.LoadModel(ctx, costModelName)
		if err != nil {
			log.Warn("failed to load cost model", "error", err)
		} else if data != nil {
			if err := model.Restore(data); err != nil {
				log.Warn("ignoring unreadable cost model snapshot", "error", err)
			} else {
				log.Info("cost model restored", "trained", model.Trained())
			}
		}
	}

	collector := metrics.NewCollector()
	collector.Start()
	tuner := tuning.NewTuner(m, db, cfg.Parallelism,
		tuning.WithCostModel(model),
		tuning.WithMetrics(collector),
		tuning.WithLogger(log.With("component", "tuning")),
		tuning.WithParallelism(cfg.Parallelism))

	log.Info("tuning started",
		"tasks", len(tasks),
		"rounds", cfg.Tuning.NumRounds,
		"population", cfg.Tuning.PopulationSize,
		"quota", cfg.Tuning.MeasureQuotaPerRound,
		"measurer", cfg.Measurer.Kind,
		"database", cfg.Database.Driver)

	results, tuneErr := tuner.TuneAll(ctx, tasks, cfg.Tuning)
	collector.Stop()

	if persistModel {
		if data, err := model.Snapshot(); err != nil {
			log.Warn("failed to snapshot cost model", "error", err)
		} else if err := store.SaveModel(ctx, costModelName, data); err != nil {
			log.Warn("failed to save cost model", "error", err)
		}
	}
	if tuneErr != nil {
		return tuneErr
	}

	out := cmd.OutOrStdout()
	if f.asJSON {
		return writeJSON(out, results)
	}
	printResults(out, results)
	printSummary(out, collector.Summary())
	if f.showFunc {
		for _, r := range results {
			fmt.Fprintf(out, "\n# %s %s\n%s\n", r.TaskName, r.Schedule, r.Func)
		}
	}
	return nil
}

func printResults(w io.Writer, results []*tuning.TuningResult) {
	fmt.Fprintf(w, "%-20s  %-12s  %6s  %8s  %8s  %-s\n", "TASK", "BEST", "ROUNDS", "MEASURED", "FAILED", "STOPPED")
	fmt.Fprintf(w, "%-20s  %-12s  %6s  %8s  %8s  %-s\n",
		strings.Repeat("-", 20), strings.Repeat("-", 12), "------", "--------", "--------", "-------")
	for _, r := range results {
		best := "-"
		if r.Measured {
			best = formatSeconds(r.Cost)
		}
		fmt.Fprintf(w, "%-20s  %-12s  %6d  %8s  %8s  %s\n",
			truncate(r.TaskName, 20), best, r.Rounds,
			humanize.Comma(int64(r.Measurements)), humanize.Comma(int64(r.Failures)), r.TerminationReason)
	}
}

func printSummary(w io.Writer, s *metrics.Summary) {
	measure := s.Aggregations[metrics.MetricMeasureSeconds]
	if measure == nil || measure.Count == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s batches measured in %s (p50 %s, p95 %s per batch)\n",
		humanize.Comma(measure.Count), s.Duration.Round(1e6),
		formatSeconds(measure.P50), formatSeconds(measure.P95))
}

// formatSeconds renders a duration in seconds with an SI prefix, e.g. "1.25 ms"
func formatSeconds(v float64) string {
	return humanize.SIWithDigits(v, 2, "s")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
