package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	dcsv "github.com/hed1ad/dace/pkg/io/csv"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		hours int
		out   string
		seed  int64
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a labelled synthetic consumption series as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			series, err := generatorFor(seed).Generate(hours)
			if err != nil {
				return err
			}
			return a.withOutput(out, func(w io.Writer) error {
				return dcsv.WriteLabeled(w, series)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 168, "hours of consumption to generate")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file (- for stdout)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "generator seed (0 = random)")
	return cmd
}

// withOutput runs write against path, or stdout when path is "-".
func (a *app) withOutput(path string, write func(io.Writer) error) error {
	if path == "-" || path == "" {
		return write(a.stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
