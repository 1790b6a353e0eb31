package proxy

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Descriptor tells a browser where its traffic should go.
// Addresses are host:port without a scheme.
type Descriptor struct {
	// HTTP is the proxy for plain HTTP traffic
	HTTP string

	// SSL is the proxy for CONNECT tunnels; falls back to HTTP when empty
	SSL string

	// SOCKS is an optional SOCKS5 proxy, used when HTTP and SSL are empty
	SOCKS string

	// NoProxy lists host glob patterns (e.g. "*.internal", "localhost") that bypass the proxy
	NoProxy []string
}

// Server returns the proxy URL a browser should be launched with.
func (d Descriptor) Server() string {
	switch {
	case d.HTTP != "":
		return "http://" + d.HTTP
	case d.SSL != "":
		return "http://" + d.SSL
	case d.SOCKS != "":
		return "socks5://" + d.SOCKS
	}
	return ""
}

// TunnelAddr returns the proxy used for CONNECT tunnels.
func (d Descriptor) TunnelAddr() string {
	if d.SSL != "" {
		return d.SSL
	}
	return d.HTTP
}

// BypassList joins NoProxy in the comma separated form browsers expect.
func (d Descriptor) BypassList() string {
	return strings.Join(d.NoProxy, ",")
}

// Bypasses reports whether host matches one of the NoProxy patterns.
// Invalid patterns never match.
func (d Descriptor) Bypasses(host string) bool {
	return compileBypass(d.NoProxy).matches(host)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("Proxy{http=%s ssl=%s socks=%s noProxy=%s}", d.HTTP, d.SSL, d.SOCKS, d.BypassList())
}

type bypassMatcher []glob.Glob

func compileBypass(patterns []string) bypassMatcher {
	var m bypassMatcher
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(strings.ToLower(p), '.')
		if err != nil {
			continue
		}
		m = append(m, g)
	}
	return m
}

func (m bypassMatcher) matches(host string) bool {
	host = strings.ToLower(host)
	for _, g := range m {
		if g.Match(host) {
			return true
		}
	}
	return false
}
