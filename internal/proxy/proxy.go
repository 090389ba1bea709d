package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/gwconfig"
	"github.com/ferrohq/gatewayd/internal/health"
	"github.com/ferrohq/gatewayd/internal/metrics"
	"github.com/ferrohq/gatewayd/internal/router"
	"github.com/ferrohq/gatewayd/internal/supervisor"
)

// healthGateTimeout is the readiness gate's total wait cap (§4.9 step 2,
// §5, property 12).
const healthGateTimeout = 15 * time.Second

var bufferPool = sync.Pool{New: func() any { return make([]byte, 32*1024) }}

// Delegate is the pluggable request handler consulted before core routing
// (§4.9, §6).
type Delegate interface {
	Handle(w http.ResponseWriter, r *http.Request) (handled bool)
}

// Handler is C9's HTTP handler, mounted behind the TLS listener.
type Handler struct {
	router     *router.Router
	supervisor *supervisor.Supervisor
	health     *health.Prober
	delegate   Delegate
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// New builds the proxy/static Handler.
func New(rtr *router.Router, sup *supervisor.Supervisor, prober *health.Prober, delegate Delegate, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{router: rtr, supervisor: sup, health: prober, delegate: delegate, log: log}
}

// SetMetrics wires a Metrics collector set into the handler; every request
// admitted past the gates (served statically or proxied) is counted
// through it once set. Optional.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic in request handler, recovered", zap.Any("recovered", rec))
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}()

	if h.delegate != nil && h.delegate.Handle(w, r) {
		return
	}

	app, ok := h.router.Lookup(r.Host)
	if !ok {
		http.Error(w, "Unknown host", http.StatusBadGateway)
		return
	}

	if isWebsocketUpgrade(r) {
		h.proxyWebsocket(w, r, app)
		return
	}

	if app.Supervised() && !h.supervisor.IsRunning(app.Host) {
		http.Error(w, "App process not running", http.StatusServiceUnavailable)
		return
	}

	if app.HealthURL != "" && !h.awaitHealthy(app.Host) {
		http.Error(w, "Backend did not become healthy in time", http.StatusBadGateway)
		return
	}

	rec := newStatusRecorder(w)
	if app.IsStatic() {
		serveStatic(rec, r, app.StaticDir)
	} else {
		h.proxyHTTP(rec, r, app)
	}
	if h.metrics != nil {
		h.metrics.ProxiedRequests.WithLabelValues(app.Host, fmt.Sprintf("%d", rec.code)).Inc()
	}
}

// statusRecorder wraps a ResponseWriter to capture the status code written
// by serveStatic/proxyHTTP for metrics, without altering their logic.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, code: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) awaitHealthy(host string) bool {
	deadline := time.Now().Add(healthGateTimeout)
	for time.Now().Before(deadline) {
		if h.health.State(host).Healthy {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return h.health.State(host).Healthy
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func upstreamAuthority(app gwconfig.App) (scheme, authority string, rejectUnauthorized bool, ok bool) {
	s, host, port, reject, ok := app.UpstreamTarget()
	if !ok {
		return "", "", false, false
	}
	return s, fmt.Sprintf("%s:%d", host, port), reject, true
}

func (h *Handler) proxyHTTP(w http.ResponseWriter, r *http.Request, app gwconfig.App) {
	scheme, authority, rejectUnauthorized, ok := upstreamAuthority(app)
	if !ok {
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}

	publicHost := r.Host
	upstreamHost, _ := splitHostPort(authority)

	outReq := r.Clone(r.Context())
	outReq.URL.Scheme = scheme
	outReq.URL.Host = authority
	outReq.RequestURI = ""

	if app.PreserveHost {
		outReq.Host = r.Host
	} else {
		outReq.Host = authority
	}

	setForwardedHeaders(outReq, r)

	transport := http.DefaultTransport
	if scheme == "https" && !rejectUnauthorized {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	resp, err := transport.RoundTrip(outReq)
	if err != nil {
		h.log.Warn("proxy roundtrip failed", zap.String("host", app.Host), zap.Error(err))
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	rewriteResponseHeaders(resp.Header, upstreamHost, publicHost)

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)
	_, _ = io.CopyBuffer(w, resp.Body, buf)
}

func setForwardedHeaders(outReq, orig *http.Request) {
	clientIP, _, err := net.SplitHostPort(orig.RemoteAddr)
	if err != nil {
		clientIP = orig.RemoteAddr
	}
	outReq.Header.Set("X-Forwarded-For", clientIP)
	outReq.Header.Set("X-Forwarded-Proto", "https")
	outReq.Header.Set("X-Forwarded-Host", orig.Host)
}

// rewriteResponseHeaders applies the Location and Set-Cookie rewrites from
// §4.9 to a proxy response's headers, in place.
func rewriteResponseHeaders(header http.Header, upstreamHost, publicHost string) {
	if loc := header.Get("Location"); loc != "" {
		header.Set("Location", rewriteLocation(loc, upstreamHost, publicHost))
	}
	if cookies := header.Values("Set-Cookie"); len(cookies) > 0 {
		header.Del("Set-Cookie")
		for _, c := range cookies {
			header.Add("Set-Cookie", scrubSetCookieDomain(c))
		}
	}
}

// proxyWebsocket implements §4.9's WebSocket upgrade path: same host/app
// lookup and upstream derivation, no health gate, hijack and splice bytes
// both directions — no framing library, the proxy never parses WS frames.
func (h *Handler) proxyWebsocket(w http.ResponseWriter, r *http.Request, app gwconfig.App) {
	_, authority, _, ok := upstreamAuthority(app)
	if !ok {
		destroyHijacked(w)
		return
	}

	backendConn, err := net.DialTimeout("tcp", authority, 10*time.Second)
	if err != nil {
		h.log.Warn("websocket backend dial failed", zap.String("host", app.Host), zap.Error(err))
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}
	defer backendConn.Close()

	outReq := r.Clone(context.Background())
	outReq.URL.Host = authority
	outReq.URL.Scheme = "http"
	if app.PreserveHost {
		outReq.Host = r.Host
	} else {
		outReq.Host = authority
	}
	if err := outReq.Write(backendConn); err != nil {
		h.log.Warn("websocket backend write failed", zap.String("host", app.Host), zap.Error(err))
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		h.log.Warn("hijack failed", zap.String("host", app.Host), zap.Error(err))
		return
	}
	defer clientConn.Close()

	if brw != nil {
		if n := brw.Reader.Buffered(); n > 0 {
			buffered, _ := brw.Reader.Peek(n)
			_, _ = backendConn.Write(buffered)
		}
	}

	done := make(chan struct{}, 2)
	splice := func(dst io.Writer, src io.Reader) {
		buf := bufferPool.Get().([]byte)
		defer bufferPool.Put(buf)
		_, _ = io.CopyBuffer(dst, src, buf)
		done <- struct{}{}
	}
	go splice(clientConn, backendConn)
	go splice(backendConn, clientConn)
	<-done
}

func destroyHijacked(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close()
			return
		}
	}
	http.Error(w, "Bad gateway", http.StatusBadGateway)
}
