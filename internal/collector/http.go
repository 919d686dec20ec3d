package collector

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/compliance-cli/internal/config"
)

// maxBodyBytes caps the evidence size for a single page.
const maxBodyBytes = 512 * 1024

// HTTPCollector fetches raw HTML via net/http. No rendering, so script-built
// content is missing, but it works where no Chrome binary is present.
type HTTPCollector struct {
	cfg     config.CollectorConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPCollector creates an HTTPCollector with sensible transport defaults
// and a polite per-second rate limit.
func NewHTTPCollector(cfg config.CollectorConfig) *HTTPCollector {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 2
	}
	return &HTTPCollector{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

func (h *HTTPCollector) Name() string { return "http" }

// Collect fetches the URL body without rendering.
func (h *HTTPCollector) Collect(ctx context.Context, targetURL string) (*Evidence, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "http: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)

	capturedAt := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "http: read body")
	}

	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("http: status %d for %s", resp.StatusCode, targetURL)
	}
	if len(body) < 100 {
		return nil, eris.Errorf("http: empty page %s", targetURL)
	}

	return &Evidence{HTML: string(body), CapturedAt: capturedAt, Source: "http"}, nil
}
