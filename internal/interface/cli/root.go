// Package cli is the command-line surface of the engagement engine. It runs
// the same command and query handlers as the worker, over a local SQLite store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leap-ielts/leap-engagement/config"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// Options configures the root command. Zero values are filled from the
// environment when the command runs.
type Options struct {
	// Config is the process configuration; nil means config.Load().
	Config *config.Config

	// Log overrides the logger built from Config.
	Log *logger.Logger

	// Out receives command output (default os.Stdout).
	Out io.Writer

	// Now is the clock used when --as-of is not given.
	Now func() time.Time
}

// app holds the state shared by all subcommands of one invocation.
type app struct {
	opts Options

	dbPath     string
	enginePath string
	asOfRaw    string

	cfg    *config.Config
	engine *config.Engine
	log    *logger.Logger
	loc    *time.Location
	asOf   time.Time

	svc *services
}

// NewRootCommand builds the "leap" command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:           "leap",
		Short:         "LEAP IELTS engagement engine",
		Long:          "Assigns daily goals, tracks streaks, estimates skill levels, ranks cohorts and unlocks incentives.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetOut(opts.Out)

	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Path to SQLite database file (overrides SQLITE_PATH)")
	root.PersistentFlags().StringVarP(&a.enginePath, "config", "c", "", "Path to engine.yaml (overrides LEAP_ENGINE_CONFIG)")
	root.PersistentFlags().StringVar(&a.asOfRaw, "as-of", "", "Evaluate at this moment: RFC3339, or YYYY-MM-DD for the end of that day")

	root.AddCommand(
		a.migrateCmd(),
		a.seedCmd(),
		a.userCmd(),
		a.activityCmd(),
		a.sessionCmd(),
		a.completeCmd(),
		a.goalCmd(),
		a.streakCmd(),
		a.leaderboardCmd(),
		a.incentiveCmd(),
		a.progressCmd(),
		a.cycleCmd(),
	)
	return root
}

// Execute runs the command tree with the process arguments.
func Execute(ctx context.Context, opts Options) error {
	return NewRootCommand(opts).ExecuteContext(ctx)
}

// setup resolves configuration, the logger and the evaluation instant. The
// store is opened lazily by services().
func (a *app) setup() error {
	cfg := a.opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	a.loc = cfg.App.Location
	if a.loc == nil {
		a.loc = time.UTC
	}

	a.log = a.opts.Log
	if a.log == nil {
		a.log = logger.NewFromSettings(cfg.App.LogFormat, cfg.App.LogLevel).Named("cli")
	}

	path := a.enginePath
	if path == "" {
		path = cfg.App.EngineConfigPath
	}
	engine, err := config.LoadEngine(path)
	if err != nil {
		return err
	}
	a.engine = engine

	if a.dbPath == "" {
		a.dbPath = cfg.SQLite.Path
	}

	a.asOf = a.opts.Now().In(a.loc)
	if a.asOfRaw != "" {
		if a.asOf, err = timeutil.ParseInstant(a.asOfRaw, a.loc); err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
	}
	return nil
}

// run wraps a subcommand body so the store is always closed afterwards.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if a.svc != nil {
			err = errors.Join(err, a.svc.close())
			a.svc = nil
		}
		return err
	}
}

func (a *app) out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
