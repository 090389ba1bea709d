// Package gateway wires C1-C10 into a single running process, the way the
// teacher's caddy.go composes modules into an Instance: construct leaves
// first (store, events, registry), then the components that depend on
// them, then the listeners last.
package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/acmehttp"
	"github.com/ferrohq/gatewayd/internal/acmeshim"
	"github.com/ferrohq/gatewayd/internal/admin"
	"github.com/ferrohq/gatewayd/internal/certorch"
	"github.com/ferrohq/gatewayd/internal/certstore"
	"github.com/ferrohq/gatewayd/internal/challenge"
	"github.com/ferrohq/gatewayd/internal/events"
	"github.com/ferrohq/gatewayd/internal/gwconfig"
	"github.com/ferrohq/gatewayd/internal/health"
	"github.com/ferrohq/gatewayd/internal/metrics"
	"github.com/ferrohq/gatewayd/internal/proxy"
	"github.com/ferrohq/gatewayd/internal/router"
	"github.com/ferrohq/gatewayd/internal/supervisor"
)

// Config bundles everything main needs to decide before wiring starts.
type Config struct {
	ConfigPath string
	HTTPPort   int
	HTTPSPort  int
	AdminToken string
}

// DefaultHTTPPort and DefaultHTTPSPort mirror §5's GATEWAY_HTTP_PORT /
// GATEWAY_HTTPS_PORT defaults.
const (
	DefaultHTTPPort  = 8080
	DefaultHTTPSPort = 4443
)

// Gateway owns every long-lived collaborator and the two listeners.
type Gateway struct {
	cfg Config
	log *zap.Logger

	bus        *events.Bus
	file       *gwconfig.File
	registry   *gwconfig.Registry
	store      *certstore.Store
	challenges *challenge.Table
	acme       *acmeshim.Client
	orch       *certorch.Orchestrator
	supervisor *supervisor.Supervisor
	prober     *health.Prober
	router     *router.Router
	proxy      *proxy.Handler
	metrics    *metrics.Metrics
	metricsReg *prometheus.Registry
	admin      *admin.Delegate

	httpListener  net.Listener
	httpsListener net.Listener
}

// New loads the config file and constructs every collaborator, but does
// not yet bind listeners or start supervised children; call Run for that.
func New(cfg Config, log *zap.Logger) (*Gateway, error) {
	if log == nil {
		log = zap.NewNop()
	}

	file, err := gwconfig.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("gateway: loading config: %w", err)
	}

	bus := events.New()

	registry, err := gwconfig.NewRegistry(file, bus)
	if err != nil {
		return nil, fmt.Errorf("gateway: building registry: %w", err)
	}

	acmeConfigDir := file.ACME.ConfigDir
	if acmeConfigDir == "" {
		acmeConfigDir = "./gatewayd-acme"
	}

	store, err := certstore.New(acmeConfigDir+"/certs", log)
	if err != nil {
		return nil, fmt.Errorf("gateway: building cert store: %w", err)
	}

	challenges := challenge.New()

	var acmeClient *acmeshim.Client
	if file.ACME.DirectoryURL != "" && file.AgreeToTerms {
		acmeClient, err = acmeshim.New(acmeshim.Config{
			DirectoryURL: file.ACME.DirectoryURL,
			Email:        file.Email,
			AccountDir:   acmeConfigDir + "/account",
		}, challenges, store, log)
		if err != nil {
			return nil, fmt.Errorf("gateway: building acme client: %w", err)
		}
	}

	metricsReg := prometheus.NewRegistry()
	m := metrics.New(metricsReg)

	orch := certorch.New(store, issuerOrNil(acmeClient), registry, log)
	orch.SetMetrics(m)
	bus.Subscribe(events.AppAdded, orch.OnAppEvent)
	bus.Subscribe(events.AppStart, orch.OnAppEvent)

	sup := supervisor.New(bus, log)
	sup.SetMetrics(m)
	prober := health.New(bus, log)
	bus.Subscribe(events.AppAdded, func(ev events.Event) { reconcileHealth(registry, prober, ev.Host) })
	bus.Subscribe(events.AppUpdated, func(ev events.Event) { reconcileHealth(registry, prober, ev.Host) })
	bus.Subscribe(events.AppRemoved, func(ev events.Event) { prober.Cancel(ev.Host) })

	rtr := router.New(registry)
	rtr.Subscribe(bus)

	adminToken := cfg.AdminToken
	if adminToken == "" {
		adminToken = file.AdminToken
	}
	adminDelegate := admin.New(registry, metricsReg, adminToken, log)
	bus.Subscribe(events.AppAdded, adminDelegate.OnEvent)
	bus.Subscribe(events.AppUpdated, adminDelegate.OnEvent)
	bus.Subscribe(events.AppRemoved, adminDelegate.OnEvent)
	bus.Subscribe(events.AppStart, adminDelegate.OnEvent)
	bus.Subscribe(events.AppStop, adminDelegate.OnEvent)
	bus.Subscribe(events.AppExit, adminDelegate.OnEvent)
	bus.Subscribe(events.AppLog, adminDelegate.OnEvent)
	bus.Subscribe(events.AppHealth, adminDelegate.OnEvent)
	bus.Subscribe(events.ConfigSaved, adminDelegate.OnEvent)

	proxyHandler := proxy.New(rtr, sup, prober, adminDelegate, log)
	proxyHandler.SetMetrics(m)

	g := &Gateway{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		file:       file,
		registry:   registry,
		store:      store,
		challenges: challenges,
		acme:       acmeClient,
		orch:       orch,
		supervisor: sup,
		prober:     prober,
		router:     rtr,
		proxy:      proxyHandler,
		metrics:    m,
		metricsReg: metricsReg,
		admin:      adminDelegate,
	}
	return g, nil
}

func issuerOrNil(c *acmeshim.Client) certorch.ACMEIssuer {
	if c == nil {
		return nil
	}
	return c
}

func reconcileHealth(registry *gwconfig.Registry, prober *health.Prober, host string) {
	if app, ok := registry.Get(host); ok {
		prober.Reconcile(app)
	}
}

// MetricsHandler exposes the Prometheus handler for the admin collaborator
// to mount; the core never binds its own metrics listener (§2).
func (g *Gateway) MetricsHandler() http.Handler {
	return metrics.Handler(g.metricsReg)
}

// Run starts every supervised app, binds both listeners, and blocks until
// ctx is canceled, at which point it drains per §4.9's shutdown sequence:
// stop accepting, terminate children, return.
func (g *Gateway) Run(ctx context.Context) error {
	for _, app := range g.registry.All() {
		if app.Disabled {
			continue
		}
		if err := g.supervisor.Start(app); err != nil {
			g.log.Error("starting app", zap.String("host", app.Host), zap.Error(err))
		}
		g.prober.Reconcile(app)
	}

	httpsPort := g.cfg.HTTPSPort
	if httpsPort == 0 {
		httpsPort = DefaultHTTPSPort
	}
	httpPort := g.cfg.HTTPPort
	if httpPort == 0 {
		httpPort = DefaultHTTPPort
	}

	httpHandler := acmehttp.New(g.challenges, httpsPort, g.admin, g.log)
	httpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", httpPort))
	if err != nil {
		return fmt.Errorf("gateway: binding http listener: %w", err)
	}
	g.httpListener = httpLn

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = "localhost"
			}
			return g.orch.GetContext(strings.ToLower(name))
		},
	}
	rawLn, err := net.Listen("tcp", fmt.Sprintf(":%d", httpsPort))
	if err != nil {
		_ = httpLn.Close()
		return fmt.Errorf("gateway: binding https listener: %w", err)
	}
	g.httpsListener = tls.NewListener(rawLn, tlsConfig)

	httpSrv := &http.Server{Handler: httpHandler}
	httpsSrv := &http.Server{Handler: g.proxy}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.Serve(g.httpListener) }()
	go func() { errCh <- httpsSrv.Serve(g.httpsListener) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			g.log.Error("listener exited", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = httpsSrv.Shutdown(shutdownCtx)

	for _, app := range g.registry.All() {
		g.supervisor.Stop(app.Host)
	}

	return nil
}
