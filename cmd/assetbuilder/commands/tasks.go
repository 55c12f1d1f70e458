package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"git.home.luguber.info/inful/assetbuilder/internal/tasks"
)

// DefaultCmd implements the default command.
type DefaultCmd struct{}

func (c *DefaultCmd) Run(g *Global, root *CLI) error {
	return runTasks(g, root, tasks.Default)
}

// BuildCmd implements the 'build' command.
type BuildCmd struct{}

func (c *BuildCmd) Run(g *Global, root *CLI) error {
	return runTasks(g, root, tasks.Build)
}

// LintCmd implements the 'lint' command.
type LintCmd struct{}

func (c *LintCmd) Run(g *Global, root *CLI) error {
	return runTasks(g, root, tasks.Lint)
}

// WatchCmd implements the 'watch' command.
type WatchCmd struct{}

func (c *WatchCmd) Run(g *Global, root *CLI) error {
	return runTasks(g, root, tasks.Watchers)
}

// ServeCmd implements the 'serve' command.
type ServeCmd struct{}

func (c *ServeCmd) Run(g *Global, root *CLI) error {
	return runTasks(g, root, tasks.Serve)
}

// ServeDistCmd implements the 'serve-dist' command.
type ServeDistCmd struct{}

func (c *ServeDistCmd) Run(g *Global, root *CLI) error {
	return runTasks(g, root, tasks.ServeDist)
}

// SyncCmd implements the 'sync' command.
type SyncCmd struct{}

func (c *SyncCmd) Run(g *Global, root *CLI) error {
	return runTasks(g, root, tasks.Sync)
}

// RunCmd runs arbitrary tasks in parallel within one run.
type RunCmd struct {
	Tasks []string `arg:"" name:"task" help:"Task names (see 'tasks')"`
}

func (c *RunCmd) Run(g *Global, root *CLI) error {
	return runTasks(g, root, c.Tasks...)
}

// TasksCmd lists the registered tasks.
type TasksCmd struct{}

func (c *TasksCmd) Run(g *Global, root *CLI) error {
	app, err := NewApp(root)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	for _, t := range app.Runner.Registry().List() {
		var after []string
		after = append(after, t.Deps...)
		for _, group := range t.Sequence {
			after = append(after, strings.Join(group, ","))
		}
		deps := ""
		if len(after) > 0 {
			deps = "[" + strings.Join(after, " → ") + "]"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Description, deps); err != nil {
			return err
		}
	}
	return tw.Flush()
}
