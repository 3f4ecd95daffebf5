// Command sim4d evaluates parametric node graphs written as Lisp scripts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/madfam-io/sim4d-sub012/pkg/config"
	"github.com/madfam-io/sim4d-sub012/pkg/ctxlog"
)

// errReported is returned by commands that already printed why they failed.
var errReported = errors.New("failed")

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg config.Config
	log *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sim4d",
		Short: "Evaluate parametric CAD node graphs",
		Long: `sim4d evaluates node graphs declared in Lisp scripts. Nodes are
recomputed only when their inputs change; unchanged results come from a
content-addressed cache.`,
		// Errors are printed once by main; usage is noise for runtime failures.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.FileName, "configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides the config file)")

	cmd.AddCommand(
		newEvalCmd(opts),
		newWatchCmd(opts),
		newCatalogCmd(opts),
		newCheckCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command, stderr io.Writer) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	log, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	o.cfg, o.log = cfg, log
	cmd.SetContext(ctxlog.WithLogger(cmd.Context(), log))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}
