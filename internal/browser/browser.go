// Package browser wraps chromedp to give the orchestrator a small page-level
// surface: launch a session, navigate, click, read markup, restore cookies.
// Heavy resource types are blocked at the network layer so listing pages
// render fast and cheap.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/pagesift/pagesift-api/internal/session"
)

const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// Resource types that never carry extractable text.
var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage:      true,
	network.ResourceTypeMedia:      true,
	network.ResourceTypeFont:       true,
	network.ResourceTypeStylesheet: true,
}

// Options configures a browser session.
type Options struct {
	Stealth           bool          // extra flags, desktop UA, jittered waits
	NavigationTimeout time.Duration // per-navigation budget
	SettleWait        time.Duration // post-load wait for dynamic content
	SessionState      map[string]any // normalized session bundle to restore
}

// Page is the per-job browsing surface handed to the orchestrator and the
// pagination strategies.
type Page interface {
	Navigate(ctx context.Context, pageURL string) error
	Click(ctx context.Context, selector string) error
	CurrentURL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Fill(ctx context.Context, selector, value string) error
	Submit(ctx context.Context, selector string) error
	Close()
}

// Engine owns the shared Chrome process; per-job sessions are tabs on it.
type Engine struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      *slog.Logger
}

// NewEngine launches the shared exec allocator.
func NewEngine(logger *slog.Logger) *Engine {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
		chromedp.IgnoreCertErrors,
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Engine{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		logger:      logger.With("component", "browser"),
	}
}

// Close tears down the shared Chrome process.
func (e *Engine) Close() {
	e.allocCancel()
}

// NewPage opens a fresh tab configured per opts. The caller must Close it.
// Stealth sessions get a dedicated Chrome process so the automation-masking
// flags do not leak into ordinary jobs.
func (e *Engine) NewPage(ctx context.Context, opts Options) (Page, error) {
	allocCtx := e.allocCtx
	var extraCancel context.CancelFunc
	if opts.Stealth {
		stealthOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.DisableGPU,
			chromedp.NoSandbox,
			chromedp.Headless,
			chromedp.IgnoreCertErrors,
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("disable-infobars", true),
			chromedp.UserAgent(desktopUserAgent),
		)
		allocCtx, extraCancel = chromedp.NewExecAllocator(context.Background(), stealthOpts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		tabCancel()
		if extraCancel != nil {
			extraCancel()
		}
	}

	p := &chromePage{
		ctx:    tabCtx,
		cancel: cancel,
		opts:   opts,
		logger: e.logger,
	}

	actions := []chromedp.Action{
		network.Enable(),
		emulation.SetUserAgentOverride(desktopUserAgent),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize browser tab: %w", err)
	}

	if err := p.enableResourceBlocking(); err != nil {
		cancel()
		return nil, err
	}

	if len(opts.SessionState) > 0 {
		if err := p.restoreSession(opts.SessionState); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to restore session state: %w", err)
		}
	}

	return p, nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
	logger *slog.Logger
}

// enableResourceBlocking fails requests for heavy resource types at the
// fetch layer.
func (p *chromePage) enableResourceBlocking() error {
	if err := chromedp.Run(p.ctx, fetch.Enable()); err != nil {
		return fmt.Errorf("failed to enable request interception: %w", err)
	}

	chromedp.ListenTarget(p.ctx, func(ev any) {
		reqPaused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			execCtx := chromedp.FromContext(p.ctx)
			c := cdp.WithExecutor(p.ctx, execCtx.Target)
			if blockedResourceTypes[reqPaused.ResourceType] {
				_ = fetch.FailRequest(reqPaused.RequestID, network.ErrorReasonBlockedByClient).Do(c)
				return
			}
			_ = fetch.ContinueRequest(reqPaused.RequestID).Do(c)
		}()
	})

	return nil
}

// restoreSession installs cookies from a normalized session bundle.
func (p *chromePage) restoreSession(state map[string]any) error {
	cookies := session.Cookies(state)
	if len(cookies) == 0 {
		return nil
	}

	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				param = param.WithExpires(&expires)
			}
			switch c.SameSite {
			case "Strict":
				param = param.WithSameSite(network.CookieSameSiteStrict)
			case "Lax":
				param = param.WithSameSite(network.CookieSameSiteLax)
			case "None":
				param = param.WithSameSite(network.CookieSameSiteNone)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %q: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// Navigate loads pageURL, waits for the DOM and the configured settle time.
func (p *chromePage) Navigate(ctx context.Context, pageURL string) error {
	timeout := p.opts.NavigationTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(p.runCtx(ctx), timeout)
	defer cancel()

	tasks := []chromedp.Action{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	}
	if wait := p.settleWait(); wait > 0 {
		tasks = append(tasks, chromedp.Sleep(wait))
	}

	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", pageURL, err)
	}
	return nil
}

// Click clicks the element at selector and waits for the page to settle.
func (p *chromePage) Click(ctx context.Context, selector string) error {
	timeout := p.opts.NavigationTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(p.runCtx(ctx), timeout)
	defer cancel()

	tasks := []chromedp.Action{
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.WaitReady("body"),
	}
	if wait := p.settleWait(); wait > 0 {
		tasks = append(tasks, chromedp.Sleep(wait))
	}

	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

// CurrentURL reports the tab's location.
func (p *chromePage) CurrentURL(ctx context.Context) (string, error) {
	var current string
	if err := chromedp.Run(p.runCtx(ctx), chromedp.Location(&current)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return current, nil
}

// Content returns the rendered page markup.
func (p *chromePage) Content(ctx context.Context) (string, error) {
	var pageHTML string
	if err := chromedp.Run(p.runCtx(ctx), chromedp.OuterHTML("html", &pageHTML)); err != nil {
		return "", fmt.Errorf("failed to capture page content: %w", err)
	}
	return pageHTML, nil
}

// Fill types value into the element at selector.
func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	if err := chromedp.Run(p.runCtx(ctx),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to fill %q: %w", selector, err)
	}
	return nil
}

// Submit clicks a submit control and waits for the resulting load.
func (p *chromePage) Submit(ctx context.Context, selector string) error {
	return p.Click(ctx, selector)
}

// Close releases the tab.
func (p *chromePage) Close() {
	p.cancel()
}

// runCtx merges the caller's cancellation with the tab context. chromedp
// actions must run on the tab context, so the caller's deadline is watched on
// the side.
func (p *chromePage) runCtx(ctx context.Context) context.Context {
	merged, cancel := context.WithCancel(p.ctx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged
}

// settleWait returns the configured post-load wait, jittered in stealth mode
// so the timing looks less mechanical.
func (p *chromePage) settleWait() time.Duration {
	wait := p.opts.SettleWait
	if wait <= 0 {
		return 0
	}
	if p.opts.Stealth {
		jitter := time.Duration(rand.Int63n(int64(wait) / 2))
		return wait + jitter
	}
	return wait
}
