// Package admin is a reference implementation of the "admin collaborator"
// the core spec treats as an external surface (§1, §6): a chi-routed debug
// and control-plane mux, consulted as the pluggable delegate before C8/C9's
// own routing, and fed the event stream from C10. Grounded on the
// teacher's admin.go (bearer-token auth, a chi-style mux mounted ahead of
// core routing) but trimmed to the handful of endpoints this spec actually
// names, since the admin surface itself is explicitly out of scope.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/events"
	"github.com/ferrohq/gatewayd/internal/gwconfig"
	"github.com/ferrohq/gatewayd/internal/metrics"
)

// recordedEvent tags a bus event with a correlation ID before it is
// exposed over /events, the same way the teacher's admin API tags its own
// audit entries for cross-referencing in logs.
type recordedEvent struct {
	ID    string       `json:"id"`
	Event events.Event `json:"event"`
}

// Registry is the subset of gwconfig.Registry the admin surface mutates.
type Registry interface {
	All() []gwconfig.App
	Get(host string) (gwconfig.App, bool)
	Put(app gwconfig.App) error
	Remove(host string) error
}

// Delegate is a chi-routed http.Handler that also satisfies the
// acmehttp.Delegate / proxy delegate shape (Handle returns whether it
// fully answered the request) by treating "route matched" as handled and
// anything unmatched under its prefix as a 404 it still owns. It has no
// listener of its own: the gateway installs it as the delegate of both the
// HTTP/ACME listener (C8) and the TLS proxy handler (C9).
type Delegate struct {
	mux   *chi.Mux
	token string

	mu     sync.Mutex
	recent []recordedEvent
}

// New builds the admin mux. token is the bearer token required on mutating
// endpoints (empty disables auth, matching an unset adminToken/
// GATEWAY_ADMIN_TOKEN in §6).
func New(reg Registry, metricsReg *prometheus.Registry, token string, log *zap.Logger) *Delegate {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Delegate{token: token}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler(metricsReg))

	r.Route("/apps", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, reg.All())
		})
		r.Get("/{host}", func(w http.ResponseWriter, req *http.Request) {
			host := chi.URLParam(req, "host")
			app, ok := reg.Get(host)
			if !ok {
				http.NotFound(w, req)
				return
			}
			writeJSON(w, app)
		})
		r.With(d.requireToken).Put("/{host}", func(w http.ResponseWriter, req *http.Request) {
			var app gwconfig.App
			if err := json.NewDecoder(req.Body).Decode(&app); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			app.Host = chi.URLParam(req, "host")
			if err := reg.Put(app); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.With(d.requireToken).Delete("/{host}", func(w http.ResponseWriter, req *http.Request) {
			if err := reg.Remove(chi.URLParam(req, "host")); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		writeJSON(w, d.recent)
	})

	d.mux = r
	return d
}

func (d *Delegate) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+d.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OnEvent records the last handful of events so /events has something to
// show; it is meant to be subscribed to every event kind (§4.10).
func (d *Delegate) OnEvent(ev events.Event) {
	const maxRecent = 50
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append(d.recent, recordedEvent{ID: uuid.NewString(), Event: ev})
	if len(d.recent) > maxRecent {
		d.recent = d.recent[len(d.recent)-maxRecent:]
	}
}

// Handle implements the pluggable delegate interface consulted before core
// routing in C8/C9 (§4.8, §4.9, §6). Only requests under /gatewayd-admin/
// are claimed; everything else falls through to core routing.
func (d *Delegate) Handle(w http.ResponseWriter, r *http.Request) bool {
	const prefix = "/gatewayd-admin"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		return false
	}
	stripped := strings.TrimPrefix(r.URL.Path, prefix)
	if stripped == "" {
		stripped = "/"
	}
	sub := *r
	sub.URL.Path = stripped
	d.mux.ServeHTTP(w, &sub)
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
