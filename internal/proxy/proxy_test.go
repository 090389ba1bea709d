package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/events"
	"github.com/ferrohq/gatewayd/internal/gwconfig"
	"github.com/ferrohq/gatewayd/internal/health"
	"github.com/ferrohq/gatewayd/internal/router"
	"github.com/ferrohq/gatewayd/internal/supervisor"
)

type fakeLister struct{ apps []gwconfig.App }

func (f *fakeLister) All() []gwconfig.App { return f.apps }

func newTestHandler(apps []gwconfig.App) *Handler {
	bus := events.New()
	rtr := router.New(&fakeLister{apps: apps})
	sup := supervisor.New(bus, zap.NewNop())
	prober := health.New(bus, zap.NewNop())
	return New(rtr, sup, prober, nil, zap.NewNop())
}

func TestServeHTTPUnknownHost(t *testing.T) {
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "http://nowhere.test/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServeHTTPSupervisedNotRunningIs503(t *testing.T) {
	app := gwconfig.App{Host: "app.test", Start: "node server.js", Port: intPtr(3000)}
	h := newTestHandler([]gwconfig.App{app})

	req := httptest.NewRequest(http.MethodGet, "http://app.test/", nil)
	req.Host = "app.test"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeHTTPStaticServesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "<h1>static</h1>")

	app := gwconfig.App{Host: "static.test", StaticDir: dir}
	h := newTestHandler([]gwconfig.App{app})

	req := httptest.NewRequest(http.MethodGet, "http://static.test/", nil)
	req.Host = "static.test"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>static</h1>", rec.Body.String())
}

func TestServeHTTPProxiesToUpstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https", r.Header.Get("X-Forwarded-Proto"), "missing X-Forwarded-Proto on backend request")
		assert.NotEmpty(t, r.Header.Get("X-Forwarded-Host"), "missing X-Forwarded-Host on backend request")
		w.Header().Set("X-From-Backend", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from backend"))
	}))
	defer backend.Close()

	host, port := backendHostPort(t, backend.URL)
	app := gwconfig.App{
		Host:     "proxied.test",
		Upstream: &gwconfig.Upstream{Scheme: "http", Host: host, Port: port},
	}
	h := newTestHandler([]gwconfig.App{app})

	req := httptest.NewRequest(http.MethodGet, "http://proxied.test/anything", nil)
	req.Host = "proxied.test"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello from backend", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-From-Backend"), "expected backend response header to be forwarded")
}

func TestServeHTTPRewritesLocationAndScrubsCookie(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://"+r.Host+"/next")
		w.Header().Set("Set-Cookie", "sid=abc; Domain=backend.internal; Path=/")
		w.WriteHeader(http.StatusFound)
	}))
	defer backend.Close()

	host, port := backendHostPort(t, backend.URL)
	app := gwconfig.App{
		Host:     "redir.test",
		Upstream: &gwconfig.Upstream{Scheme: "http", Host: host, Port: port},
	}
	h := newTestHandler([]gwconfig.App{app})

	req := httptest.NewRequest(http.MethodGet, "http://redir.test/start", nil)
	req.Host = "redir.test"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://redir.test"), "location not rewritten: %q", loc)
	cookie := rec.Header().Get("Set-Cookie")
	assert.NotContains(t, strings.ToLower(cookie), "domain=", "cookie domain not scrubbed: %q", cookie)
}

func intPtr(v int) *int { return &v }

func backendHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u := strings.TrimPrefix(strings.TrimPrefix(rawURL, "http://"), "https://")
	h, p := splitHostPort(u)
	port := 0
	for _, c := range p {
		if c < '0' || c > '9' {
			t.Fatalf("bad test server port %q", p)
		}
		port = port*10 + int(c-'0')
	}
	return h, port
}
