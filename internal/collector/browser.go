package collector

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/config"
)

// BrowserCollector renders the page in headless Chrome and captures the
// resulting DOM. It waits for network activity to settle before reading
// the document so late-loading content (contact sections rendered by
// scripts) is present in the evidence.
type BrowserCollector struct {
	cfg config.CollectorConfig
}

// NewBrowserCollector creates a BrowserCollector.
func NewBrowserCollector(cfg config.CollectorConfig) *BrowserCollector {
	return &BrowserCollector{cfg: cfg}
}

func (b *BrowserCollector) Name() string { return "browser" }

// Collect navigates to the URL, waits for network idle (or the overall
// timeout), and returns the rendered outer HTML.
func (b *BrowserCollector) Collect(ctx context.Context, targetURL string) (*Evidence, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(b.cfg.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	timeout := time.Duration(b.cfg.TimeoutSecs) * time.Second
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	quiet := time.Duration(b.cfg.NetworkIdleMillis) * time.Millisecond
	idle := watchNetworkIdle(tabCtx, quiet)

	capturedAt := time.Now()
	var html string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(targetURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			select {
			case <-idle:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: render %s", targetURL)
	}
	if len(html) < 100 {
		return nil, eris.Errorf("browser: empty page %s", targetURL)
	}

	zap.L().Debug("browser: page rendered",
		zap.String("url", targetURL),
		zap.Int("html_bytes", len(html)),
	)

	return &Evidence{HTML: html, CapturedAt: capturedAt, Source: "browser"}, nil
}

// idleTracker signals when no network request has been in flight for the
// quiet window. The quiet timer stays unarmed until the first request is
// seen, so slow browser startup cannot elapse the window before navigation
// produces any traffic.
type idleTracker struct {
	quiet time.Duration
	idle  chan struct{}
	once  sync.Once

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	seen     bool
	timer    *time.Timer
}

func newIdleTracker(quiet time.Duration) *idleTracker {
	t := &idleTracker{
		quiet:    quiet,
		idle:     make(chan struct{}),
		inflight: make(map[network.RequestID]struct{}),
	}
	t.timer = time.AfterFunc(quiet, func() {
		t.once.Do(func() { close(t.idle) })
	})
	t.timer.Stop()
	return t
}

func (t *idleTracker) requestStarted(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = true
	t.inflight[id] = struct{}{}
	t.timer.Stop()
}

func (t *idleTracker) requestDone(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	if t.seen && len(t.inflight) == 0 {
		t.timer.Reset(t.quiet)
	}
}

// watchNetworkIdle returns a channel that is closed once request traffic has
// been seen and none has been in flight for the quiet window. The listener
// must be installed before navigation so the initial document request is
// tracked.
func watchNetworkIdle(ctx context.Context, quiet time.Duration) <-chan struct{} {
	t := newIdleTracker(quiet)

	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			t.requestStarted(e.RequestID)
		case *network.EventLoadingFinished:
			t.requestDone(e.RequestID)
		case *network.EventLoadingFailed:
			t.requestDone(e.RequestID)
		}
	})

	return t.idle
}
