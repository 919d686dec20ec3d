// Package collector captures rendered HTML evidence from a target website.
package collector

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Evidence holds the captured raw HTML and its capture timestamp.
type Evidence struct {
	HTML       string
	CapturedAt time.Time
	Source     string // e.g. "browser", "http"
}

// Collector fetches the rendered HTML for a single URL.
type Collector interface {
	Collect(ctx context.Context, url string) (*Evidence, error)
	Name() string
}

// Chain tries collectors in priority order, returning the first success.
// The browser collector goes first for fully rendered pages; the plain
// HTTP collector catches sites where no browser is available.
type Chain struct {
	collectors []Collector
}

// NewChain creates a Chain over the given collectors.
func NewChain(collectors ...Collector) *Chain {
	return &Chain{collectors: collectors}
}

func (c *Chain) Name() string { return "chain" }

// Collect tries each collector in order and returns the first non-empty result.
func (c *Chain) Collect(ctx context.Context, url string) (*Evidence, error) {
	var lastErr error
	for _, col := range c.collectors {
		ev, err := col.Collect(ctx, url)
		if err == nil && ev != nil && ev.HTML != "" {
			return ev, nil
		}
		if err != nil {
			zap.L().Debug("collector: attempt failed, trying next",
				zap.String("collector", col.Name()),
				zap.String("url", url),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "collector: all collectors failed")
	}
	return nil, eris.Errorf("collector: no collector produced content for %s", url)
}
