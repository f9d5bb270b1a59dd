// Package cli implements the dace command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hed1ad/dace/internal/config"
	"github.com/hed1ad/dace/internal/logging"
	"github.com/hed1ad/dace/pkg/engine"
	"github.com/hed1ad/dace/pkg/store"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		logger: zap.NewNop(),
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "dace",
		Short:         "Electrical consumption anomaly detection",
		Long:          "dace generates hourly consumption series, trains a centroid-distance and an isolation scorer on them, flags anomalies and reports how well each scorer agrees with the ground truth.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: config.yaml in ., $HOME/.dace, /etc/dace)")
	flags.Int("port", 0, "HTTP port")
	flags.String("db", "", "SQLite database path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log encoding (json, console)")
	for key, flag := range map[string]string{
		"port":          "port",
		"database_path": "db",
		"log_level":     "log-level",
		"log_format":    "log-format",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(a.v, a.cfgFile)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Logging())
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.logger = logger
		return nil
	}
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		_ = a.logger.Sync()
	}

	cmd.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newGenerateCmd(a),
		newScoreCmd(a),
		newEvaluateCmd(a),
	)
	return cmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	st, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

func (a *app) newEngine(opts ...engine.Option) *engine.Engine {
	opts = append([]engine.Option{
		engine.WithConfig(a.cfg.Engine()),
		engine.WithLogger(a.logger),
	}, opts...)
	return engine.New(opts...)
}
