package network

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultProbeInterval is how often Prober checks the health endpoint.
const DefaultProbeInterval = 5 * time.Second

// Prober derives connectivity from periodic GETs against a health URL.
// Any 2xx response counts as online.
type Prober struct {
	*Manual
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
}

var _ Monitor = (*Prober)(nil)

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithHTTPClient overrides the client used for probes.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) { p.client = c }
}

// WithProbeLogger sets the logger for probe failures.
func WithProbeLogger(logger *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
		p.Manual.logger = logger
	}
}

// NewProber creates a prober that starts offline until the first probe.
func NewProber(url string, interval time.Duration, opts ...ProberOption) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	p := &Prober{
		Manual:   NewManual(false),
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 2 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe performs one health check and updates the state.
func (p *Prober) Probe(ctx context.Context) bool {
	err := p.check(ctx)
	if err != nil {
		p.logger.Debug("health probe failed", "url", p.url, "error", err)
	}
	online := err == nil
	p.Set(online)
	return online
}

func (p *Prober) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
