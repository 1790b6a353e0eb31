package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elazarl/goproxy"
	xproxy "golang.org/x/net/proxy"

	"github.com/entrhq/driverpool/pkg/logging"
)

// Server is a proxy a browser session can be routed through.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
	Descriptor() Descriptor
}

// Download is a file observed passing through the proxy.
type Download struct {
	URL         string
	FileName    string
	ContentType string
	Body        []byte
	ReceivedAt  time.Time
}

// ServerOption configures a LocalServer.
type ServerOption func(*LocalServer)

// WithLogger routes proxy warnings to logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *LocalServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// LocalServer is a forwarding HTTP proxy bound to the loopback interface.
// Plain HTTP responses sent as attachments are recorded as downloads;
// CONNECT tunnels are relayed without inspection.
type LocalServer struct {
	mu        sync.Mutex
	upstream  *Descriptor
	bypass    bypassMatcher
	proxy     *goproxy.ProxyHttpServer
	tunnelTo  func(network, addr string) (net.Conn, error)
	logger    *logging.Logger
	server    *http.Server
	tunnels   map[net.Conn]struct{}
	downloads []Download
	addr      string
	started   bool
	stopped   bool
}

// NewServer creates a proxy chained to upstream. A nil upstream means direct connections.
func NewServer(upstream *Descriptor, opts ...ServerOption) *LocalServer {
	s := &LocalServer{
		upstream: upstream,
		tunnels:  make(map[net.Conn]struct{}),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if upstream != nil {
		s.bypass = compileBypass(upstream.NoProxy)
	}

	p := goproxy.NewProxyHttpServer()
	p.Logger = s.logger
	p.Tr = &http.Transport{
		Proxy:                 s.upstreamURL,
		DialContext:           s.dialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
	p.NonproxyHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "proxy requests must use an absolute URL", http.StatusBadRequest)
	})
	if upstream != nil && upstream.TunnelAddr() != "" {
		s.tunnelTo = p.NewConnectDialToProxy("http://" + upstream.TunnelAddr())
	}
	p.ConnectDial = nil
	p.ConnectDialWithReq = s.dialTarget
	p.OnResponse().DoFunc(s.captureDownload)
	s.proxy = p
	return s
}

// Start binds an ephemeral loopback port and begins serving.
func (s *LocalServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("proxy server already started")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrap(err, "failed to bind proxy listener")
	}

	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.proxy,
		ReadHeaderTimeout: 30 * time.Second,
	}
	s.started = true

	go func() {
		_ = s.server.Serve(ln)
	}()
	return nil
}

// Shutdown stops accepting connections, waits for in-flight requests until
// ctx expires and closes open tunnels. Safe to call more than once.
func (s *LocalServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	srv := s.server
	tunnels := make([]net.Conn, 0, len(s.tunnels))
	for c := range s.tunnels {
		tunnels = append(tunnels, c)
	}
	s.mu.Unlock()

	// hijacked CONNECT connections are invisible to http.Server.Shutdown
	for _, c := range tunnels {
		_ = c.Close()
	}
	err := srv.Shutdown(ctx)
	s.proxy.Tr.CloseIdleConnections()
	return err
}

// Descriptor returns where browsers should send traffic to reach this proxy.
func (s *LocalServer) Descriptor() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Descriptor{HTTP: s.addr, SSL: s.addr}
	if s.upstream != nil {
		d.NoProxy = append([]string(nil), s.upstream.NoProxy...)
	}
	return d
}

// Addr returns the bound address, empty before Start.
func (s *LocalServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Downloads returns the files captured so far.
func (s *LocalServer) Downloads() []Download {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Download(nil), s.downloads...)
}

// OpenTunnels reports how many CONNECT tunnels are currently relaying.
func (s *LocalServer) OpenTunnels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tunnels)
}

func (s *LocalServer) String() string {
	if s.upstream != nil {
		return fmt.Sprintf("LocalServer{%s -> %s}", s.Addr(), s.upstream)
	}
	return fmt.Sprintf("LocalServer{%s}", s.Addr())
}

// captureDownload buffers attachment bodies so they can be both recorded
// and relayed to the browser.
func (s *LocalServer) captureDownload(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		return nil
	}
	fileName, isAttachment := attachmentName(resp.Header.Get("Content-Disposition"))
	if !isAttachment {
		return resp
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		ctx.Warnf("Failed to read download %s: %v", ctx.Req.URL, err)
		return resp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, Download{
		URL:         ctx.Req.URL.String(),
		FileName:    fileName,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		ReceivedAt:  time.Now(),
	})
	return resp
}

// upstreamURL feeds http.Transport.Proxy for plain HTTP forwarding.
func (s *LocalServer) upstreamURL(r *http.Request) (*url.URL, error) {
	if s.upstream == nil || s.upstream.HTTP == "" || s.bypass.matches(r.URL.Hostname()) {
		return nil, nil
	}
	return url.Parse("http://" + s.upstream.HTTP)
}

// dialContext reaches origin servers, through SOCKS5 when that is the only upstream.
func (s *LocalServer) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, _ := net.SplitHostPort(addr)
	if s.upstream != nil && s.upstream.HTTP == "" && s.upstream.SOCKS != "" && !s.bypass.matches(host) {
		return s.socksDial(ctx, network, addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

func (s *LocalServer) socksDial(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer, err := xproxy.SOCKS5("tcp", s.upstream.SOCKS, nil, xproxy.Direct)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build socks5 dialer")
	}
	if cd, ok := dialer.(xproxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return dialer.Dial(network, addr)
}

// dialTarget opens the far end of a CONNECT tunnel.
func (s *LocalServer) dialTarget(req *http.Request, network, hostport string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid tunnel target %q", hostport)
	}
	ctx := context.Background()
	if req != nil {
		ctx = req.Context()
	}

	var conn net.Conn
	switch {
	case s.upstream == nil || s.bypass.matches(host):
		var d net.Dialer
		conn, err = d.DialContext(ctx, network, hostport)
	case s.tunnelTo != nil:
		conn, err = s.tunnelTo(network, hostport)
		if err != nil {
			err = errors.Wrapf(err, "upstream proxy refused CONNECT to %s", hostport)
		}
	case s.upstream.SOCKS != "":
		conn, err = s.socksDial(ctx, network, hostport)
	default:
		var d net.Dialer
		conn, err = d.DialContext(ctx, network, hostport)
	}
	if err != nil {
		return nil, err
	}
	return s.track(conn), nil
}

// trackedConn leaves the tunnel roster when the relay closes it.
type trackedConn struct {
	net.Conn
	once  sync.Once
	owner *LocalServer
}

func (c *trackedConn) Close() error {
	c.once.Do(func() {
		c.owner.mu.Lock()
		delete(c.owner.tunnels, c)
		c.owner.mu.Unlock()
	})
	return c.Conn.Close()
}

func (s *LocalServer) track(conn net.Conn) net.Conn {
	tc := &trackedConn{Conn: conn, owner: s}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunnels[tc] = struct{}{}
	return tc
}

// attachmentName reports whether a Content-Disposition marks a download.
func attachmentName(disposition string) (string, bool) {
	if disposition == "" {
		return "", false
	}
	kind, params, err := mime.ParseMediaType(disposition)
	if err != nil || kind != "attachment" {
		return "", false
	}
	return params["filename"], true
}
