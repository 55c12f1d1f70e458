package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

// Global is bound into every command's Run.
type Global struct {
	Context context.Context
	Out     io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"assetbuilder.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	NoWatch bool             `name:"no-watch" help:"Skip the watchers task (CI, reproducible builds)"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Default   DefaultCmd   `cmd:"" default:"1" help:"Build everything, then watch sources for changes"`
	Build     BuildCmd     `cmd:"" help:"Clean, concatenate pages and copy the app into dist"`
	Lint      LintCmd      `cmd:"" help:"Lint scripts and styles"`
	Watch     WatchCmd     `cmd:"" help:"Watch sources and rebuild on change"`
	Serve     ServeCmd     `cmd:"" help:"Serve .tmp and app with live reload"`
	ServeDist ServeDistCmd `cmd:"" name:"serve-dist" help:"Build and serve dist"`
	Sync      SyncCmd      `cmd:"" help:"Serve with live reload, recompiling styles on change"`
	Run       RunCmd       `cmd:"" help:"Run named tasks"`
	Tasks     TasksCmd     `cmd:"" help:"List the registered tasks"`
	Init      InitCmd      `cmd:"" help:"Initialize a new configuration file"`

	logger *slog.Logger
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(c.logger)
	return nil
}

// Logger returns the logger configured by AfterApply.
func (c *CLI) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
