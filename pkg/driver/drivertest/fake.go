// Package drivertest provides in-memory driver handles for tests.
package drivertest

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/entrhq/driverpool/pkg/driver"
	"github.com/entrhq/driverpool/pkg/proxy"
)

// Handle is a scriptable driver.Handle. Zero values behave like a healthy
// browser showing about:blank.
type Handle struct {
	Name string

	mu       sync.Mutex
	url      string
	titleErr error
	quitErr  error
	quitGate chan struct{}
	quitHook func()

	quits   atomic.Int32
	cookies atomic.Int32
}

// NewHandle returns a healthy fake handle.
func NewHandle(name string) *Handle {
	return &Handle{Name: name, url: "about:blank"}
}

func (h *Handle) ID() string { return h.Name }

func (h *Handle) String() string { return h.Name }

// Kill makes every subsequent Title call fail with err.
func (h *Handle) Kill(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.titleErr = err
}

// FailQuit makes Quit return err.
func (h *Handle) FailQuit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quitErr = err
}

// BlockQuit makes Quit wait until the returned function is called.
func (h *Handle) BlockQuit() (release func()) {
	gate := make(chan struct{})
	h.mu.Lock()
	h.quitGate = gate
	h.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// PanicOnQuit makes Quit panic.
func (h *Handle) PanicOnQuit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quitHook = func() { panic("quit exploded") }
}

// Quits returns how many times Quit was called.
func (h *Handle) Quits() int { return int(h.quits.Load()) }

// CookieClears returns how many times DeleteAllCookies was called.
func (h *Handle) CookieClears() int { return int(h.cookies.Load()) }

func (h *Handle) Open(url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.url = url
	return nil
}

func (h *Handle) Title() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.titleErr != nil {
		return "", h.titleErr
	}
	return "title of " + h.url, nil
}

func (h *Handle) CurrentURL() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url, nil
}

func (h *Handle) PageSource() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return "<html><body>" + h.url + "</body></html>", nil
}

// Evaluate answers window.location.href with the current URL and echoes
// any other script.
func (h *Handle) Evaluate(script string, args ...interface{}) (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if script == "window.location.href" || script == "() => window.location.href" {
		return h.url, nil
	}
	return script, nil
}

func (h *Handle) DeleteAllCookies() error {
	h.cookies.Inc()
	return nil
}

func (h *Handle) Quit() error {
	h.quits.Inc()
	h.mu.Lock()
	gate, hook, err := h.quitGate, h.quitHook, h.quitErr
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	if gate != nil {
		<-gate
	}
	return err
}

// Provider hands out fake handles and remembers them.
type Provider struct {
	mu      sync.Mutex
	handles []*Handle
	proxies []*proxy.Descriptor
	err     error
	next    func(n int) *Handle
}

// NewProvider returns a provider producing healthy handles named h1, h2, ...
func NewProvider() *Provider {
	return &Provider{}
}

// Fail makes NewHandle return err.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Customize lets a test shape each new handle. n starts at 1.
func (p *Provider) Customize(fn func(n int) *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = fn
}

func (p *Provider) NewHandle(desc *proxy.Descriptor) (driver.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = append(p.proxies, desc)
	if p.err != nil {
		return nil, p.err
	}
	n := len(p.handles) + 1
	var h *Handle
	if p.next != nil {
		h = p.next(n)
	}
	if h == nil {
		h = NewHandle(fmt.Sprintf("h%d", n))
	}
	p.handles = append(p.handles, h)
	return h, nil
}

// Calls returns how many handles were requested, including failed requests.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Handles returns the handles created so far.
func (p *Provider) Handles() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Handle, len(p.handles))
	copy(out, p.handles)
	return out
}

// Proxies returns the descriptor passed to every NewHandle call.
func (p *Provider) Proxies() []*proxy.Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*proxy.Descriptor, len(p.proxies))
	copy(out, p.proxies)
	return out
}
