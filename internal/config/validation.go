package config

import (
	"fmt"
	"slices"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/foundation/normalization"
)

var outputStyles = []string{"compressed", "expanded", "nested"}

var (
	outputStyleNames = normalization.Strings("styles.output_style", outputStyles...)
	strategyNames    = normalization.Strings("pagespeed.strategy", "mobile", "desktop")
	backoffNames     = normalization.Strings("pagespeed.backoff", "fixed", "linear", "exponential")
	notifyModes      = normalization.Strings("notify.mode", NotifyConsole, NotifyNATS)
)

// Normalize rewrites enumerated fields to their canonical spelling, so
// "Expanded" and " expanded" both select the expanded output style. Unknown
// values are left for Validate to report.
func (c *Config) Normalize() {
	for _, field := range []struct {
		n     *normalization.Normalizer[string]
		value *string
	}{
		{outputStyleNames, &c.Styles.OutputStyle},
		{strategyNames, &c.Pagespeed.Strategy},
		{backoffNames, &c.Pagespeed.Backoff},
		{notifyModes, &c.Notify.Mode},
	} {
		_ = field.n.Apply(field.value)
	}
}

// Validate checks the configuration for values no stage can work with.
func (c *Config) Validate() error {
	if !slices.Contains(outputStyles, c.Styles.OutputStyle) {
		return invalid("styles.output_style", c.Styles.OutputStyle)
	}
	paths := map[string]string{
		"paths.app":     c.Paths.App,
		"paths.styles":  c.Paths.Styles,
		"paths.scripts": c.Paths.Scripts,
		"paths.images":  c.Paths.Images,
		"paths.dist":    c.Paths.Dist,
		"paths.tmp":     c.Paths.Tmp,
	}
	for field, value := range paths {
		if value == "" {
			return errors.ValidationError(field+" must not be empty").WithContext("field", field).Build()
		}
	}
	for field, port := range map[string]int{"serve.port": c.Serve.Port, "serve.dist_port": c.Serve.DistPort} {
		if port < 0 || port > 65535 {
			return invalid(field, port)
		}
	}
	if c.Notify.Mode != NotifyConsole && c.Notify.Mode != NotifyNATS {
		return invalid("notify.mode", c.Notify.Mode)
	}
	if c.Notify.Mode == NotifyNATS && c.Notify.NATSURL == "" {
		return errors.ValidationError("notify.nats_url is required when notify.mode is nats").Build()
	}
	if c.Pagespeed.Strategy != "mobile" && c.Pagespeed.Strategy != "desktop" {
		return invalid("pagespeed.strategy", c.Pagespeed.Strategy)
	}
	if c.Pagespeed.Schedule != "" {
		d, err := time.ParseDuration(c.Pagespeed.Schedule)
		if err != nil || d <= 0 {
			return invalid("pagespeed.schedule", c.Pagespeed.Schedule)
		}
	}
	switch c.Pagespeed.Backoff {
	case "fixed", "linear", "exponential":
	default:
		return invalid("pagespeed.backoff", c.Pagespeed.Backoff)
	}
	if c.Pagespeed.Retries < 0 {
		return invalid("pagespeed.retries", c.Pagespeed.Retries)
	}
	if c.Concurrency < 1 {
		return invalid("concurrency", c.Concurrency)
	}
	if c.Images.JPEGQuality < 1 || c.Images.JPEGQuality > 100 {
		return invalid("images.jpeg_quality", c.Images.JPEGQuality)
	}
	return nil
}

// PagespeedInterval returns the parsed schedule, zero when disabled.
func (c *Config) PagespeedInterval() time.Duration {
	d, err := time.ParseDuration(c.Pagespeed.Schedule)
	if err != nil {
		return 0
	}
	return d
}

func invalid(field string, value any) error {
	return errors.ValidationError(fmt.Sprintf("invalid value for %s: %v", field, value)).
		WithContext("field", field).Build()
}
