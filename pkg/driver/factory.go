package driver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/entrhq/driverpool/pkg/logging"
	"github.com/entrhq/driverpool/pkg/proxy"
)

const proxyStopTimeout = 5 * time.Second

// ProxyConfig describes how a new session reaches the network.
type ProxyConfig struct {
	// Proxied starts a local download-capturing proxy in front of the session
	Proxied bool

	// Upstream is the caller-supplied proxy, if any. When Proxied is set the
	// local proxy chains to it; otherwise the session uses it directly.
	Upstream *proxy.Descriptor
}

// ProxyStarter builds (but does not start) a local proxy chained to upstream.
type ProxyStarter func(upstream *proxy.Descriptor) proxy.Server

// Factory creates fresh handles, optionally proxied, with listeners attached.
type Factory struct {
	provider   Provider
	listeners  func() []Listener
	startProxy ProxyStarter
	logger     *logging.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithListeners sets the source of listeners attached to each new handle.
// The function is read on every Create.
func WithListeners(fn func() []Listener) FactoryOption {
	return func(f *Factory) {
		f.listeners = fn
	}
}

// WithProxyStarter replaces the local proxy constructor.
func WithProxyStarter(fn ProxyStarter) FactoryOption {
	return func(f *Factory) {
		f.startProxy = fn
	}
}

// NewFactory creates a factory over provider.
func NewFactory(provider Provider, logger *logging.Logger, opts ...FactoryOption) *Factory {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &Factory{
		provider:   provider,
		listeners:  func() []Listener { return nil },
		startProxy: func(upstream *proxy.Descriptor) proxy.Server { return proxy.NewServer(upstream, proxy.WithLogger(logger)) },
		logger:     logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create produces a new handle. The returned proxy server is nil unless
// cfg.Proxied is set. On failure the proxy, if started, is shut down and
// nothing is returned; creation is not retried.
func (f *Factory) Create(cfg ProxyConfig) (Handle, proxy.Server, error) {
	var (
		server proxy.Server
		desc   = cfg.Upstream
	)

	if cfg.Proxied {
		server = f.startProxy(cfg.Upstream)
		if err := server.Start(); err != nil {
			return nil, nil, errors.Wrap(err, "failed to start proxy server")
		}
		d := server.Descriptor()
		desc = &d
		f.logger.Debugf("Started proxy server %v", server)
	}

	h, err := f.provider.NewHandle(desc)
	if err != nil {
		if server != nil {
			f.stopProxy(server)
		}
		return nil, nil, errors.Wrap(err, "failed to create browser session")
	}

	h = f.attachListeners(h)
	return h, server, nil
}

func (f *Factory) attachListeners(h Handle) Handle {
	listeners := f.listeners()
	if len(listeners) == 0 {
		return h
	}
	for _, l := range listeners {
		f.logger.Infof("Register listener %T on driver %s", l, h.ID())
	}
	return NewEventFiringHandle(h, listeners...)
}

func (f *Factory) stopProxy(server proxy.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), proxyStopTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		f.logger.Warnf("Failed to stop proxy server %v: %v", server, err)
	}
}
