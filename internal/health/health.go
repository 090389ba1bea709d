// Package health implements C6: periodic HTTP health probing of apps with
// a healthUrl, feeding the readiness gate C9 consults before admitting a
// proxied request.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/events"
	"github.com/ferrohq/gatewayd/internal/gwconfig"
)

// probeTimeout bounds a single probe request; the readiness gate in C9
// caps total wait at 15s regardless of how this is configured (§5).
const probeTimeout = 5 * time.Second

// State mirrors ChildRuntime.healthState (§3).
type State struct {
	Healthy       bool
	StatusCode    int
	LastCheckedAt time.Time
	LatencyMs     int64
	Error         string
}

type prober struct {
	cancel context.CancelFunc
}

// Prober schedules and tracks per-app health probes.
type Prober struct {
	mu      sync.Mutex
	states  map[string]State
	probers map[string]*prober

	client *http.Client
	bus    *events.Bus
	log    *zap.Logger
}

// New builds a Prober publishing AppHealth events on bus.
func New(bus *events.Bus, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{
		states:  make(map[string]State),
		probers: make(map[string]*prober),
		client: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 2 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		bus: bus,
		log: log,
	}
}

// State returns the last known health state for host. A never-probed app
// (no healthUrl) reports Healthy: true (§3: "absent ⇒ always considered
// healthy").
func (p *Prober) State(host string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[host]; ok {
		return st
	}
	return State{Healthy: true}
}

// Reconcile starts, reschedules, or cancels the prober for app depending on
// whether healthUrl is set, and whether the URL/interval changed since the
// last call (§4.6: "rescheduled when the interval or URL changes").
func (p *Prober) Reconcile(app gwconfig.App) {
	p.mu.Lock()
	existing, has := p.probers[app.Host]
	p.mu.Unlock()

	if app.HealthURL == "" {
		if has {
			p.Cancel(app.Host)
		}
		return
	}

	if has {
		p.Cancel(app.Host)
		_ = existing
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.probers[app.Host] = &prober{cancel: cancel}
	p.mu.Unlock()

	go p.loop(ctx, app)
}

// Cancel stops the prober for host, e.g. on app removal (§4.6).
func (p *Prober) Cancel(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.probers[host]; ok {
		pr.cancel()
	}
	delete(p.probers, host)
	delete(p.states, host)
}

func (p *Prober) loop(ctx context.Context, app gwconfig.App) {
	interval := time.Duration(app.EffectiveHealthInterval()) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.probeOnce(ctx, app)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx, app)
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, app gwconfig.App) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.HealthURL, nil)
	if err != nil {
		p.record(ctx, app.Host, State{Healthy: false, Error: err.Error(), LastCheckedAt: time.Now()})
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		p.record(ctx, app.Host, State{Healthy: false, Error: err.Error(), LastCheckedAt: time.Now(), LatencyMs: latency.Milliseconds()})
		return
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 400
	p.record(ctx, app.Host, State{
		Healthy: healthy, StatusCode: resp.StatusCode,
		LastCheckedAt: time.Now(), LatencyMs: latency.Milliseconds(),
	})
}

// record stores st unless the probe's prober was canceled, so a probe that
// finishes after Cancel cannot bring back state Cancel cleared.
func (p *Prober) record(ctx context.Context, host string, st State) {
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.states[host] = st
	p.mu.Unlock()
	p.bus.Publish(events.Event{Kind: events.AppHealth, Host: host, Data: st})
	if !st.Healthy {
		p.log.Debug("health probe unhealthy", zap.String("host", host), zap.Int("status", st.StatusCode), zap.String("error", st.Error))
	}
}
