// Package health classifies whether an HTTP endpoint is up and serving.
package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/themerig/internal/metrics"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 5 * time.Second
)

// Probe issues single GET requests against service URLs. Any status in
// [200, 500) counts as healthy: a 404 from an app with no root route still
// proves the process is serving.
type Probe struct {
	client *http.Client
	log    *slog.Logger
}

// New returns a Probe. A nil client uses a fresh http.Client that follows
// redirects; a nil logger discards.
func New(client *http.Client, log *slog.Logger) *Probe {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Probe{client: client, log: log}
}

// Check performs one bounded request. It never returns an error; transport
// failures are logged at debug level and reported as unhealthy.
func (p *Probe) Check(ctx context.Context, url string, timeout time.Duration) bool {
	return p.check(ctx, "", url, timeout)
}

// CheckService is Check with the service name attached to logs and metrics.
func (p *Probe) CheckService(ctx context.Context, service, url string, timeout time.Duration) bool {
	return p.check(ctx, service, url, timeout)
}

func (p *Probe) check(ctx context.Context, service, url string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	healthy := p.do(ctx, url, timeout)
	if service != "" {
		metrics.ObserveHealthCheck(service, healthy, time.Since(start).Seconds())
	}
	return healthy
}

func (p *Probe) do(ctx context.Context, url string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.log.Debug("health request build failed", "url", url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("health check failed", "url", url, "error", err)
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	ok := resp.StatusCode >= 200 && resp.StatusCode < 500
	if !ok {
		p.log.Debug("health check returned server error", "url", url, "status", resp.StatusCode)
	}
	return ok
}

// WaitUntilHealthy polls Check every interval until it reports healthy or
// timeout has elapsed. It returns false early if ctx is cancelled.
func (p *Probe) WaitUntilHealthy(ctx context.Context, url string, timeout, interval time.Duration) bool {
	return p.WaitService(ctx, "", url, timeout, interval, DefaultTimeout)
}

// WaitService is WaitUntilHealthy with the service name attached to
// logs and metrics. Each attempt is bounded by attempt (DefaultTimeout when
// not positive) and by the time left before the overall deadline.
func (p *Probe) WaitService(ctx context.Context, service, url string, timeout, interval, attempt time.Duration) bool {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if attempt <= 0 {
		attempt = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				p.log.Debug("health wait cancelled", "url", url)
			}
			return false
		case <-timer.C:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if p.check(ctx, service, url, min(attempt, remaining)) {
			return true
		}
		p.log.Debug("service not ready yet", "service", service, "url", url, "remaining", remaining.Round(time.Second))
		timer.Reset(interval)
	}
}
