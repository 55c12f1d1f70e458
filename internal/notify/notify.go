// Package notify reports per-file stage failures without stopping the stage.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// Event describes one failed file.
type Event struct {
	RunID   string    `json:"run_id,omitempty"`
	Project string    `json:"project,omitempty"`
	Task    string    `json:"task"`
	File    string    `json:"file,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func (e Event) String() string {
	if e.File == "" {
		return fmt.Sprintf("%s: %s", e.Task, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Task, e.File, e.Message)
}

// Notifier delivers events to the developer.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// ConsoleNotifier writes one line per event, standing in for a desktop
// notification.
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleNotifier writes to out, or stderr when out is nil.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleNotifier{out: out}
}

func (n *ConsoleNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	prefix := "assetbuilder"
	if ev.Project != "" {
		prefix = ev.Project
	}
	_, err := fmt.Fprintf(n.out, "[%s] %s\n", prefix, ev)
	return err
}

// Policy selects what a Plumber does with a failure.
type Policy int

const (
	// PolicyIgnore swallows the failure and logs it at debug level.
	PolicyIgnore Policy = iota
	// PolicyNotify reports the failure and lets the stage continue.
	PolicyNotify
)

func (p Policy) String() string {
	if p == PolicyNotify {
		return "notify"
	}
	return "ignore"
}

// Plumber routes per-file errors according to its policy. The zero value
// ignores everything.
type Plumber struct {
	Policy   Policy
	Notifier Notifier
	// ViaConsole logs failures instead of handing them to Notifier.
	ViaConsole bool
	Project    string
	RunID      string
	Logger     *slog.Logger
}

// Handle reports err for file. It never fails; notifier errors are logged.
func (p *Plumber) Handle(ctx context.Context, task, file string, err error) {
	if err == nil {
		return
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{logfields.Task(task), logfields.File(file), logfields.Error(err)}
	if p.RunID != "" {
		attrs = append(attrs, logfields.RunID(p.RunID))
	}

	if p.Policy == PolicyIgnore {
		logger.DebugContext(ctx, "Ignoring file error", attrs...)
		return
	}
	if p.ViaConsole || p.Notifier == nil {
		logger.ErrorContext(ctx, "File failed", attrs...)
		return
	}
	ev := Event{
		RunID:   p.RunID,
		Project: p.Project,
		Task:    task,
		File:    file,
		Message: err.Error(),
		Time:    time.Now().UTC(),
	}
	if nerr := p.Notifier.Notify(ctx, ev); nerr != nil {
		logger.WarnContext(ctx, "Notification failed", append(attrs, slog.String("notify_error", nerr.Error()))...)
	}
}

// With returns a copy bound to a different policy.
func (p *Plumber) With(policy Policy) *Plumber {
	cp := *p
	cp.Policy = policy
	return &cp
}
