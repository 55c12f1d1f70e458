// Package pagespeed runs PageSpeed Insights audits against the deployed site.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/retry"
)

// DefaultEndpoint is the PageSpeed Insights v5 API.
const DefaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// Options configures a Client.
type Options struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	Policy     retry.Policy
	HTTPClient *http.Client
	Recorder   metrics.Recorder
	Logger     *slog.Logger
}

// Client calls the audit API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	policy   retry.Policy
	recorder metrics.Recorder
	logger   *slog.Logger
}

// Result is the part of a Lighthouse report the build cares about.
type Result struct {
	URL      string
	Strategy string
	// Score is the performance score on a 0-100 scale.
	Score  int
	Audits map[string]string
}

type response struct {
	ID               string `json:"id"`
	LighthouseResult struct {
		FinalURL   string `json:"finalUrl"`
		Categories struct {
			Performance struct {
				Score *float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits map[string]struct {
			DisplayValue string `json:"displayValue"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// reported are the audits logged with the score.
var reported = []string{"first-contentful-paint", "largest-contentful-paint", "total-blocking-time", "cumulative-layout-shift", "speed-index"}

// NewClient applies defaults for unset options.
func NewClient(opts Options) *Client {
	c := &Client{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		http:     opts.HTTPClient,
		policy:   opts.Policy,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.policy.Validate() != nil {
		c.policy = retry.DefaultPolicy()
	}
	if c.recorder == nil {
		c.recorder = metrics.NoopRecorder{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Run audits target with the given strategy (mobile or desktop), retrying transient failures.
func (c *Client) Run(ctx context.Context, target, strategy string) (*Result, error) {
	if target == "" {
		return nil, ferrors.ConfigError("pagespeed needs a url; set pagespeed.url or url in the project file").Build()
	}
	var result *Result
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.once(ctx, target, strategy)
		return err
	}, func(err error) bool {
		ce, ok := ferrors.AsClassified(err)
		return ok && ce.CanRetry()
	}, func(attempt int, err error) {
		c.recorder.IncRetry("pagespeed")
		c.logger.Warn("pagespeed attempt failed, retrying", slog.Int("attempt", attempt), logfields.Error(err))
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("PageSpeed Insights",
		slog.String("url", result.URL),
		slog.String("strategy", result.Strategy),
		slog.Int("score", result.Score))
	for _, name := range reported {
		if v, ok := result.Audits[name]; ok {
			c.logger.Info("PageSpeed audit", slog.String("audit", name), slog.String("value", v))
		}
	}
	return result, nil
}

func (c *Client) once(ctx context.Context, target, strategy string) (*Result, error) {
	q := url.Values{}
	q.Set("url", target)
	q.Set("strategy", strategy)
	q.Set("category", "performance")
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, ferrors.ConfigError("invalid pagespeed endpoint").WithCause(err).WithContext("endpoint", c.endpoint).Build()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ferrors.NetworkError("pagespeed request failed").WithCause(err).Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, ferrors.NetworkError("read pagespeed response").WithCause(err).Build()
	}
	var payload response
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("pagespeed returned %d", resp.StatusCode)
		if decodeErr == nil && payload.Error != nil && payload.Error.Message != "" {
			msg += ": " + payload.Error.Message
		}
		b := ferrors.NetworkError(msg).WithContext("status", resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			b = b.WithRetry(ferrors.RetryNever)
		}
		return nil, b.Build()
	}
	if decodeErr != nil {
		return nil, ferrors.NetworkError("decode pagespeed response").WithCause(decodeErr).WithRetry(ferrors.RetryNever).Build()
	}
	score := payload.LighthouseResult.Categories.Performance.Score
	if score == nil {
		return nil, ferrors.NetworkError("pagespeed response has no performance score").WithRetry(ferrors.RetryNever).Build()
	}
	res := &Result{
		URL:      payload.LighthouseResult.FinalURL,
		Strategy: strategy,
		Score:    int(math.Round(*score * 100)),
		Audits:   map[string]string{},
	}
	if res.URL == "" {
		res.URL = target
	}
	for name, a := range payload.LighthouseResult.Audits {
		if a.DisplayValue != "" {
			res.Audits[name] = a.DisplayValue
		}
	}
	return res, nil
}
