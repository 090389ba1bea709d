// Package proxy implements C9: the TLS listener's request admission,
// static file serving, reverse proxying, and response header rewriting.
// The buffered-copy and websocket-hijack shape is grounded on the
// teacher's caddyhttp/proxy/reverseproxy.go ServeHTTP/pooledIoCopy.
package proxy

import (
	"net/url"
	"strings"
)

// rewriteLocation implements §4.9's Location-header rewrite rule.
// publicHost is the incoming request's Host header (authority, with port
// if present); upstreamHost is the proxy target's host (no port).
func rewriteLocation(raw, upstreamHost, publicHost string) string {
	loc, err := url.Parse(raw)
	if err != nil {
		return literalPrefixFallback(raw, upstreamHost, publicHost)
	}

	publicHostname, publicPort := splitHostPort(publicHost)

	if isUpstreamOrLoopback(loc.Hostname(), upstreamHost) {
		loc.Scheme = "https"
		loc.Host = publicHost
	}

	injectCallbackPort(loc, publicHostname, publicPort)

	return loc.String()
}

func isUpstreamOrLoopback(host, upstreamHost string) bool {
	h := strings.ToLower(host)
	if h == strings.ToLower(upstreamHost) {
		return true
	}
	switch h {
	case "127.0.0.1", "localhost", "::1":
		return true
	}
	return false
}

// injectCallbackPort implements §4.9's callback query-param rewrite: if
// the `callback` param's host equals the public host and it lacks a port,
// inject the incoming request's authority port. Applied whether or not the
// Location itself was rewritten (internal and external case alike).
func injectCallbackPort(u *url.URL, publicHostname, publicPort string) {
	if publicPort == "" {
		return
	}
	q := u.Query()
	cb := q.Get("callback")
	if cb == "" {
		return
	}
	cbURL, err := url.Parse(cb)
	if err != nil {
		return
	}
	if !strings.EqualFold(cbURL.Hostname(), publicHostname) || cbURL.Port() != "" {
		return
	}
	cbURL.Host = publicHostname + ":" + publicPort
	q.Set("callback", cbURL.String())
	u.RawQuery = q.Encode()
}

func splitHostPort(hostport string) (host, port string) {
	if idx := strings.LastIndex(hostport, ":"); idx >= 0 && !strings.Contains(hostport[idx+1:], "]") {
		return hostport[:idx], hostport[idx+1:]
	}
	return hostport, ""
}

// literalPrefixFallback handles malformed Location URLs per §4.9: fall
// back to a literal prefix replacement of the upstream authority with the
// public one.
func literalPrefixFallback(raw, upstreamHost, publicHost string) string {
	for _, prefix := range []string{"http://" + upstreamHost, "https://" + upstreamHost} {
		if strings.HasPrefix(raw, prefix) {
			return "https://" + publicHost + strings.TrimPrefix(raw, prefix)
		}
	}
	return raw
}

// scrubSetCookieDomain removes any Domain=... attribute from a single
// Set-Cookie header value, making the cookie host-only (§4.9, property 8).
func scrubSetCookieDomain(raw string) string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if strings.HasPrefix(strings.ToLower(trimmed), "domain=") {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ";")
}
