package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/dace/pkg/consumption"
	dcsv "github.com/hed1ad/dace/pkg/io/csv"
	"github.com/hed1ad/dace/pkg/report"
	"github.com/hed1ad/dace/pkg/simulator"
)

// Artefact file names written by run into the docs directory.
const (
	statsTableFile   = "stats_table.csv"
	datasetFile      = "consumption_data.csv"
	dailyPatternFile = "daily_pattern.csv"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		hours int
		seed  int64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, train, persist, evaluate and export in one pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPipeline(cmd, hours, seed)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 720, "hours of consumption to generate")
	cmd.Flags().Int64Var(&seed, "seed", 0, "generator seed (0 = random)")
	return cmd
}

func generatorFor(seed int64) *simulator.Generator {
	if seed == 0 {
		return simulator.New()
	}
	return simulator.New(simulator.WithSeed(seed))
}

// withKinds copies the injected anomaly kinds onto the scored rows.
func withKinds(scored []consumption.ScoredReading, series []consumption.LabeledReading) {
	for i := range scored {
		scored[i].Kind = series[i].Kind
	}
}

func (a *app) runPipeline(cmd *cobra.Command, hours int, seed int64) error {
	ctx := cmd.Context()

	series, err := generatorFor(seed).Generate(hours)
	if err != nil {
		return err
	}
	a.logger.Info("series generated", zap.Int("hours", hours))

	eng := a.newEngine()
	m, scored, anomalies, err := eng.Fit(consumption.Readings(series))
	if err != nil {
		return err
	}
	withKinds(scored, series)

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runID := uuid.NewString()
	if err := st.ReplaceDataset(ctx, runID, scored); err != nil {
		return fmt.Errorf("persist dataset: %w", err)
	}
	if err := st.SaveModel(ctx, m); err != nil {
		return fmt.Errorf("persist model: %w", err)
	}
	eng.Use(m)

	eval, err := eng.Evaluate(scored)
	if err != nil {
		return err
	}

	stats, err := report.Compute(scored)
	if err != nil {
		return err
	}
	if err := a.writeArtefacts(scored, stats); err != nil {
		return err
	}

	injected := 0
	for _, s := range series {
		if s.Label() {
			injected++
		}
	}

	out := a.stdout
	fmt.Fprintln(out, "run summary")
	fmt.Fprintf(out, "  run id:              %s\n", runID)
	fmt.Fprintf(out, "  readings generated:  %d\n", len(scored))
	fmt.Fprintf(out, "  anomalies injected:  %d\n", injected)
	fmt.Fprintf(out, "  anomalies detected:  %d\n", anomalies)
	fmt.Fprintf(out, "  combined accuracy:   %.2f%%\n", 100*eval.Combined.Accuracy)
	fmt.Fprintf(out, "  artefacts:           %s\n", a.cfg.DocsDir)
	return nil
}

func (a *app) writeArtefacts(scored []consumption.ScoredReading, stats report.Stats) error {
	if err := os.MkdirAll(a.cfg.DocsDir, 0o755); err != nil {
		return err
	}

	if err := writeFile(filepath.Join(a.cfg.DocsDir, statsTableFile), func(f *os.File) error {
		return report.WriteTable(f, stats)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(a.cfg.DocsDir, dailyPatternFile), func(f *os.File) error {
		return report.WriteProfile(f, report.HourlyProfile(scored))
	}); err != nil {
		return err
	}

	w, err := dcsv.NewWriter(filepath.Join(a.cfg.DocsDir, datasetFile))
	if err != nil {
		return err
	}
	if err := w.WriteAll(scored); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func writeFile(path string, fill func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
