package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/dace/pkg/consumption"
	"github.com/hed1ad/dace/pkg/engine"
	dcsv "github.com/hed1ad/dace/pkg/io/csv"
	"github.com/hed1ad/dace/pkg/store"
)

func newScoreCmd(a *app) *cobra.Command {
	var (
		in    string
		out   string
		train bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a consumption CSV with the stored model",
		Long:  "score reads timestamp,consumption_kw[,is_anomaly] rows and writes them back with both scorer verdicts. Without a stored model, or with --train, it first trains on the input and stores the result.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.score(cmd, in, out, train)
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input CSV")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output CSV (- for stdout)")
	cmd.Flags().BoolVar(&train, "train", false, "train on the input before scoring")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func (a *app) score(cmd *cobra.Command, in, out string, train bool) error {
	ctx := cmd.Context()

	r, err := dcsv.NewReader(in)
	if err != nil {
		return err
	}
	readings, err := r.Read()
	r.Close()
	if err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	eng := a.newEngine()
	if !train {
		m, err := st.LoadLatestModel(ctx)
		switch {
		case errors.Is(err, store.ErrNoModel):
			a.logger.Info("no stored model; training on input")
			train = true
		case err != nil:
			return err
		default:
			eng.Use(m)
		}
	}

	var scored []consumption.ScoredReading
	if train {
		var m *engine.Model
		if m, scored, _, err = eng.Fit(readings); err != nil {
			return err
		}
		if err := st.SaveModel(ctx, m); err != nil {
			return fmt.Errorf("persist model: %w", err)
		}
		eng.Use(m)
	} else if scored, err = eng.Score(readings); err != nil {
		return err
	}

	a.logger.Info("csv scored",
		zap.String("in", in),
		zap.Int("readings", len(scored)),
		zap.Int("anomalies", consumption.CountFinal(scored)),
	)
	return a.withOutput(out, func(w io.Writer) error {
		cw := dcsv.NewWriterTo(w)
		if err := cw.WriteAll(scored); err != nil {
			return err
		}
		return cw.Close()
	})
}
