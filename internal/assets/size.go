package assets

import (
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// SizeReporter totals the bytes written by a stage and logs them once.
type SizeReporter struct {
	title  string
	logger *slog.Logger

	mu    sync.Mutex
	files int
	total int64
}

func NewSizeReporter(title string, logger *slog.Logger) *SizeReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SizeReporter{title: title, logger: logger}
}

// Add records one written file.
func (r *SizeReporter) Add(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files++
	r.total += int64(n)
}

// Total returns the number of files and bytes recorded so far.
func (r *SizeReporter) Total() (files int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files, r.total
}

// Report logs "<title> all files <size>".
func (r *SizeReporter) Report() {
	files, total := r.Total()
	r.logger.Info(r.title+" all files "+humanize.Bytes(uint64(total)), //nolint:gosec // total is never negative
		logfields.Stage(r.title), logfields.Count(files), logfields.Bytes(total))
}
