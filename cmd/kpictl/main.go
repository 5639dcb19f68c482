// kpictl runs the KPI review operations from the command line: refreshes,
// imports and read-only reports against the same database as the server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/geekane/1127jixiao/app"
	"github.com/geekane/1127jixiao/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// cli holds the global flags and the components opened for a command.
type cli struct {
	dbPath  string
	envFile string
	verbose bool
	timeout time.Duration

	logger *zap.Logger
	app    *app.App
}

// newRootCmd builds the command tree. The caller closes the returned cli
// once Execute returns, whether or not the command failed.
func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:           "kpictl",
		Short:         "Operate the monthly KPI review pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open()
		},
	}

	// Global flags
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	root.PersistentFlags().StringVar(&c.envFile, "env", "", ".env file to load (default: ./.env when present)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 10*time.Minute, "Timeout for every command except refresh")

	root.AddCommand(
		c.refreshCmd(),
		c.runsCmd(),
		c.importAssignmentsCmd(),
		c.importTemplatesCmd(),
		c.summariesCmd(),
		c.scoreCmd(),
	)
	return root, c
}

func (c *cli) open() error {
	var files []string
	if c.envFile != "" {
		files = append(files, c.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}

	// Initialize logger
	level := cfg.LogLevel
	if c.verbose {
		level = zapcore.DebugLevel.String()
	}
	c.logger, err = config.NewLogger(level)
	if err != nil {
		return err
	}

	c.app, err = app.Open(cfg, c.logger)
	return err
}

func (c *cli) close() error {
	var err error
	if c.app != nil {
		err = c.app.Close()
		c.app = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return err
}

func main() {
	root, c := newRootCmd()
	err := root.Execute()
	if cerr := c.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
