package driver

import (
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/driverpool/pkg/logging"
	"github.com/entrhq/driverpool/pkg/proxy"
)

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultTimeout        = 30000.0

	installMaxElapsed = 2 * time.Minute
)

// PlaywrightOptions configures browsers launched by PlaywrightProvider.
type PlaywrightOptions struct {
	// Browser is one of chromium, firefox or webkit
	Browser  string
	Headless bool

	ViewportWidth  int
	ViewportHeight int

	// Timeout is the default page timeout in milliseconds
	Timeout float64
}

// browserLauncher is the part of playwright.BrowserType NewHandle needs.
type browserLauncher interface {
	Launch(options ...playwright.BrowserTypeLaunchOptions) (playwright.Browser, error)
}

// PlaywrightProvider launches one browser per handle through Playwright.
// Browsers for different handles are launched concurrently.
type PlaywrightProvider struct {
	mu            sync.Mutex
	opts          PlaywrightOptions
	pw            *playwright.Playwright
	initialized   bool
	selectBrowser func() (browserLauncher, error)
	logger        *logging.Logger
}

// NewPlaywrightProvider creates a provider. Initialize must be called before
// NewHandle.
func NewPlaywrightProvider(opts PlaywrightOptions, logger *logging.Logger) *PlaywrightProvider {
	if opts.Browser == "" {
		opts.Browser = "chromium"
	}
	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = DefaultViewportHeight
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &PlaywrightProvider{opts: opts, logger: logger}
	p.selectBrowser = func() (browserLauncher, error) { return p.browserType() }
	return p
}

func (p *PlaywrightProvider) runOptions() *playwright.RunOptions {
	return &playwright.RunOptions{
		Browsers: []string{p.opts.Browser},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
}

// Install downloads the Playwright driver and the configured browser.
// Network hiccups are retried with exponential backoff.
func (p *PlaywrightProvider) Install() error {
	opts := p.runOptions()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = installMaxElapsed

	return backoff.RetryNotify(func() error {
		return playwright.Install(opts)
	}, b, func(err error, next time.Duration) {
		p.logger.Warnf("Failed to install playwright, retry in %v: %v", next, err)
	})
}

// Initialize installs and starts the Playwright driver. Safe to call more
// than once.
func (p *PlaywrightProvider) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if err := p.Install(); err != nil {
		return errors.Wrap(err, "failed to install playwright")
	}

	pw, err := playwright.Run(p.runOptions())
	if err != nil {
		return errors.Wrap(err, "failed to start playwright")
	}

	p.pw = pw
	p.initialized = true
	return nil
}

// Stop shuts the Playwright driver down. Handles still open become unusable.
func (p *PlaywrightProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.initialized = false
	return p.pw.Stop()
}

func (p *PlaywrightProvider) browserType() (playwright.BrowserType, error) {
	switch p.opts.Browser {
	case "chromium":
		return p.pw.Chromium, nil
	case "firefox":
		return p.pw.Firefox, nil
	case "webkit":
		return p.pw.WebKit, nil
	default:
		return nil, errors.Newf("unsupported browser %q", p.opts.Browser)
	}
}

// NewHandle launches a browser, opens a context and a page in it.
func (p *PlaywrightProvider) NewHandle(desc *proxy.Descriptor) (Handle, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, errors.New("playwright provider not initialized")
	}
	bt, err := p.selectBrowser()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.launch(bt, desc)
}

// launch runs without p.mu held.
func (p *PlaywrightProvider) launch(bt browserLauncher, desc *proxy.Descriptor) (Handle, error) {
	headless := p.opts.Headless
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	}
	if desc != nil && desc.Server() != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: desc.Server(),
			Bypass: playwright.String(desc.BypassList()),
		}
	}

	browser, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to launch browser")
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  p.opts.ViewportWidth,
			Height: p.opts.ViewportHeight,
		},
	})
	if err != nil {
		_ = browser.Close()
		return nil, errors.Wrap(err, "failed to create context")
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		return nil, errors.Wrap(err, "failed to create page")
	}
	page.SetDefaultTimeout(p.opts.Timeout)

	h := &PlaywrightHandle{
		id:      uuid.New().String(),
		browser: browser,
		context: bctx,
		page:    page,
	}
	p.logger.Debugf("Launched %s browser %s (proxy %v)", p.opts.Browser, h.id, desc)
	return h, nil
}

// PlaywrightHandle is a Handle backed by one Playwright browser, context and page.
type PlaywrightHandle struct {
	id      string
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (h *PlaywrightHandle) ID() string {
	return h.id
}

func (h *PlaywrightHandle) String() string {
	return h.id
}

// classify marks err with the dead-browser signature matching the current
// state of the session.
func (h *PlaywrightHandle) classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case !h.browser.IsConnected():
		return errors.Mark(err, ErrUnreachableBrowser)
	case h.page.IsClosed():
		return errors.Mark(err, ErrNoSuchWindow)
	case errors.Is(err, playwright.ErrTargetClosed):
		return errors.Mark(err, ErrNoSuchSession)
	}
	return err
}

func (h *PlaywrightHandle) Open(url string) error {
	_, err := h.page.Goto(url)
	return h.classify(err)
}

func (h *PlaywrightHandle) Title() (string, error) {
	if !h.browser.IsConnected() {
		return "", errors.Mark(errors.Newf("browser %s disconnected", h.id), ErrUnreachableBrowser)
	}
	if h.page.IsClosed() {
		return "", errors.Mark(errors.Newf("page of %s closed", h.id), ErrNoSuchWindow)
	}
	title, err := h.page.Title()
	return title, h.classify(err)
}

func (h *PlaywrightHandle) CurrentURL() (string, error) {
	if h.page.IsClosed() {
		return "", errors.Mark(errors.Newf("page of %s closed", h.id), ErrNoSuchWindow)
	}
	return h.page.URL(), nil
}

func (h *PlaywrightHandle) PageSource() (string, error) {
	src, err := h.page.Content()
	return src, h.classify(err)
}

func (h *PlaywrightHandle) Evaluate(script string, args ...interface{}) (interface{}, error) {
	res, err := h.page.Evaluate(script, args...)
	return res, h.classify(err)
}

func (h *PlaywrightHandle) DeleteAllCookies() error {
	return h.classify(h.context.ClearCookies())
}

// Quit closes the page, the context and the browser. Every step runs even
// when an earlier one fails.
func (h *PlaywrightHandle) Quit() error {
	if !h.browser.IsConnected() {
		return errors.Mark(errors.Newf("browser %s disconnected", h.id), ErrUnreachableBrowser)
	}
	var err error
	if !h.page.IsClosed() {
		err = errors.CombineErrors(err, h.page.Close())
	}
	err = errors.CombineErrors(err, h.context.Close())
	err = errors.CombineErrors(err, h.browser.Close())
	return err
}
