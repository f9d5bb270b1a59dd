package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/dace/pkg/detectors"
	"github.com/hed1ad/dace/pkg/report"
	"github.com/hed1ad/dace/pkg/store"
)

func newEvaluateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the stored dataset against its labels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			m, err := st.LoadLatestModel(ctx)
			if errors.Is(err, store.ErrNoModel) {
				return fmt.Errorf("%w: no stored model, run `dace run` first", detectors.ErrNotTrained)
			}
			if err != nil {
				return err
			}
			rows, err := st.LoadDataset(ctx)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return report.ErrNoData
			}

			eng := a.newEngine()
			eng.Use(m)
			eval, err := eng.Evaluate(rows)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(eval)
		},
	}
}
