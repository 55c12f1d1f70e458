package stages

import (
	"context"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/pagespeed"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/retry"
)

func newAuditClient(cfg *config.Config, rec metrics.Recorder) *pagespeed.Client {
	ps := cfg.Pagespeed
	return pagespeed.NewClient(pagespeed.Options{
		Endpoint: ps.Endpoint,
		APIKey:   ps.APIKey,
		Timeout:  ps.Timeout,
		Policy:   retry.NewPolicy(retry.Backoff(ps.Backoff), ps.RetryDelay, 0, ps.Retries),
		Recorder: rec,
	})
}

// Pagespeed audits the project URL.
func (e *Env) Pagespeed(ctx context.Context, run *pipeline.Run) error {
	_, err := e.Audit.Run(ctx, e.Config.PagespeedURL(), e.Config.Pagespeed.Strategy)
	if err != nil {
		logger(run, "pagespeed").Debug("audit failed", "url", e.Config.PagespeedURL())
	}
	return err
}
