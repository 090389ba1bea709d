// Package certorch implements C4: the per-host certificate policy and the
// SNI-facing TLS context cache. Local-like hostnames share one combined
// self-signed certificate with a unioned SAN set; public hostnames get an
// ACME certificate with a self-signed fallback. Per-hostname issuance is
// serialized with a map[string]*sync.WaitGroup guarded by a mutex, the same
// shape as the teacher's caddy/letsencrypt/handshake.go
// obtainCertWaitGroups pattern.
package certorch

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/certstore"
	"github.com/ferrohq/gatewayd/internal/events"
	"github.com/ferrohq/gatewayd/internal/gwconfig"
	"github.com/ferrohq/gatewayd/internal/metrics"
	"github.com/ferrohq/gatewayd/internal/selfsigned"
)

// publicReuseThreshold is the "near-expiry" window from §9's resolved Open
// Question: reuse a public cert only when notAfter - now exceeds this.
const publicReuseThreshold = 10 * 24 * time.Hour

// cacheTTL and cacheMaxEntries bound the in-memory TLS context cache (§4.4).
const (
	cacheTTL        = 24 * time.Hour
	cacheMaxEntries = 100
	sweepInterval   = time.Hour
)

// localLikeSubstrings are matched against a lowercased hostname; any match
// classifies the host as local-like (§4.4, §9's first Open Question — this
// is a literal substring heuristic, reproduced exactly rather than
// tightened, since existing on-disk records depend on it).
var localLikeSubstrings = []string{".local", "local.", "localhost", ".console"}

// IsLocalLike classifies hostname per the substring heuristic.
func IsLocalLike(hostname string) bool {
	h := strings.ToLower(hostname)
	for _, s := range localLikeSubstrings {
		if strings.Contains(h, s) {
			return true
		}
	}
	return false
}

// ACMEIssuer is the subset of acmeshim.Client the orchestrator depends on.
type ACMEIssuer interface {
	Obtain(name, host string, altNames []string) error
}

// AppLister gives the orchestrator read access to the currently configured
// apps: All for the local-like SAN union (§4.4 step 2), Get so GetContext
// can tell a registered host from attacker-chosen SNI (§4.9/§9).
type AppLister interface {
	All() []gwconfig.App
	Get(host string) (gwconfig.App, bool)
}

// Result is what ensureCert returns to callers building a tls.Certificate.
type Result struct {
	CertPEM  []byte
	KeyPEM   []byte
	CertPath string
	KeyPath  string
}

type cacheEntry struct {
	context   *tls.Certificate
	expiresAt time.Time
}

// Orchestrator is C4.
type Orchestrator struct {
	store *certstore.Store
	acme  ACMEIssuer
	apps  AppLister
	log   *zap.Logger

	mu          sync.Mutex
	cache       map[string]*cacheEntry
	issuance    map[string]*sync.WaitGroup
	defaultCert *tls.Certificate

	metrics *metrics.Metrics
}

// SetMetrics wires a Metrics collector set into the orchestrator; cert
// issuances are reported through it once set. Optional.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// New builds an Orchestrator and starts its hourly expiry sweep. The sweep
// goroutine runs for the life of the process; there is no method to stop it.
func New(store *certstore.Store, acme ACMEIssuer, apps AppLister, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		store:    store,
		acme:     acme,
		apps:     apps,
		log:      log,
		cache:    make(map[string]*cacheEntry),
		issuance: make(map[string]*sync.WaitGroup),
	}
	go o.sweepLoop()
	return o
}

// OnAppEvent wires into the event bus (§4.10): the orchestrator proactively
// regenerates the combined cert when a local-like host appears so its SAN
// set covers it before the first TLS handshake.
func (o *Orchestrator) OnAppEvent(ev events.Event) {
	if ev.Kind != events.AppAdded && ev.Kind != events.AppStart {
		return
	}
	if !IsLocalLike(ev.Host) {
		return
	}
	if _, err := o.ensureLocalCombined(ev.Host); err != nil {
		o.log.Warn("proactive combined cert regeneration failed", zap.String("host", ev.Host), zap.Error(err))
	}
}

// EnsureCert implements the public ensureCert(hostname) operation (§4.4).
func (o *Orchestrator) EnsureCert(hostname string) (Result, error) {
	hostname = strings.ToLower(hostname)
	if IsLocalLike(hostname) {
		return o.ensureLocalCombined(hostname)
	}
	var altNames []string
	if app, ok := o.apps.Get(hostname); ok {
		altNames = app.AltNames
	}
	return o.ensurePublic(hostname, altNames)
}

// GetContext implements the SNI entry point. Unknown hostnames fall back to
// a default context for localhost rather than failing the handshake (§9
// SNI failure policy): an SNI value with no matching registered app never
// reaches EnsureCert, so an attacker-chosen name can't force a combined-cert
// regeneration or a real ACME/self-signed issuance keyed by the arbitrary
// string. The real 404-equivalent surfaces later, at the HTTP layer, as the
// documented 502 "Unknown host" (§4.9).
func (o *Orchestrator) GetContext(servername string) (*tls.Certificate, error) {
	name := strings.ToLower(strings.TrimSuffix(servername, "."))
	if name == "" {
		name = "localhost"
	}

	if cert := o.cacheLookup(name); cert != nil {
		return cert, nil
	}

	if name != "localhost" {
		if _, ok := o.apps.Get(name); !ok {
			return o.defaultContext()
		}
	}

	result, err := o.EnsureCert(name)
	if err != nil {
		if o.defaultCert != nil {
			return o.defaultCert, nil
		}
		return nil, fmt.Errorf("certorch: no certificate available for %s: %w", name, err)
	}

	cert, err := tls.X509KeyPair(result.CertPEM, result.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("certorch: building tls certificate for %s: %w", name, err)
	}
	o.cacheInsert(name, &cert)
	if name == "localhost" {
		o.mu.Lock()
		o.defaultCert = &cert
		o.mu.Unlock()
	}
	return &cert, nil
}

// defaultContext returns the cached localhost certificate for unmatched SNI,
// building it on first use rather than per unmatched name.
func (o *Orchestrator) defaultContext() (*tls.Certificate, error) {
	o.mu.Lock()
	cert := o.defaultCert
	o.mu.Unlock()
	if cert != nil {
		return cert, nil
	}
	return o.GetContext("localhost")
}

// ensureLocalCombined implements §4.4 step 2: the combined local-gateway
// record, reused when its on-disk SAN set already covers S and its CN is
// exactly "local-gateway" (I5, property 3).
func (o *Orchestrator) ensureLocalCombined(requestedHost string) (Result, error) {
	release := o.serialize(certstore.LocalGatewayName)
	defer release()

	sanSet := o.localSANUnion(requestedHost)

	if o.store.Exists(certstore.LocalGatewayName) {
		_, _, parsed, err := o.store.ReadAndParse(certstore.LocalGatewayName)
		if err == nil && parsed.SubjectCN == certstore.LocalGatewayName && sanSetSubsetOf(sanSet, parsed.SANDNSNames) {
			certPEM, keyPEM, _ := o.store.Read(certstore.LocalGatewayName)
			return Result{CertPEM: certPEM, KeyPEM: keyPEM,
				CertPath: certstore.LocalGatewayName + ".crt", KeyPath: certstore.LocalGatewayName + ".key"}, nil
		}
	}

	certPEM, keyPEM, err := selfsigned.Generate(certstore.LocalGatewayName, sortedSet(sanSet))
	if err != nil {
		return Result{}, fmt.Errorf("certorch: generating combined local certificate: %w", err)
	}
	if err := o.store.Write(certstore.LocalGatewayName, certPEM, keyPEM); err != nil {
		return Result{}, fmt.Errorf("certorch: writing combined local certificate: %w", err)
	}
	o.invalidateAllLocal()
	o.log.Info("regenerated combined local certificate", zap.Strings("sans", sortedSet(sanSet)))
	if o.metrics != nil {
		o.metrics.CertIssuances.WithLabelValues("self-signed-local", "success").Inc()
	}

	return Result{CertPEM: certPEM, KeyPEM: keyPEM,
		CertPath: certstore.LocalGatewayName + ".crt", KeyPath: certstore.LocalGatewayName + ".key"}, nil
}

// localSANUnion computes S per §4.4 step 2: the requesting hostname, every
// configured local-like app host/altName, plus *.<base> wildcards for
// every two-or-more-label name that isn't localhost.
func (o *Orchestrator) localSANUnion(requestedHost string) map[string]struct{} {
	s := make(map[string]struct{})
	add := func(name string) {
		name = strings.ToLower(name)
		s[name] = struct{}{}
		if wc := wildcardBase(name); wc != "" {
			s[wc] = struct{}{}
		}
	}

	add(requestedHost)
	for _, app := range o.apps.All() {
		if IsLocalLike(app.Host) {
			add(app.Host)
		}
		for _, alt := range app.AltNames {
			if IsLocalLike(alt) {
				add(alt)
			}
		}
	}
	return s
}

// wildcardBase returns "*.<last two labels>" for names with >=2 labels that
// are not localhost, else "".
func wildcardBase(name string) string {
	if name == "localhost" {
		return ""
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return ""
	}
	return "*." + strings.Join(labels[len(labels)-2:], ".")
}

func sanSetSubsetOf(want map[string]struct{}, have []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, h := range have {
		haveSet[strings.ToLower(h)] = struct{}{}
	}
	for w := range want {
		if _, ok := haveSet[w]; !ok {
			return false
		}
	}
	return true
}

func sortedSet(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	// Deterministic output is nice for tests and diffing generated certs;
	// a fixed small set doesn't need a real sort package dependency beyond
	// stdlib's.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ensurePublic implements §4.4 step 3: reuse-if-valid, else ACME, else
// self-signed fallback. altNames are the App's configured additional SANs
// (§3) and are forwarded to ACME issuance and included in the self-signed
// fallback; a reused on-disk cert is only reused when it already covers them.
func (o *Orchestrator) ensurePublic(hostname string, altNames []string) (Result, error) {
	release := o.serialize(hostname)
	defer release()

	sans := append([]string{hostname}, altNames...)

	if o.store.Exists(hostname) {
		certPEM, keyPEM, parsed, err := o.store.ReadAndParse(hostname)
		if err == nil {
			remaining := time.Until(time.Unix(parsed.NotAfter, 0))
			if remaining > publicReuseThreshold && coversSANs(parsed.SANDNSNames, sans) {
				return Result{CertPEM: certPEM, KeyPEM: keyPEM,
					CertPath: hostname + ".crt", KeyPath: hostname + ".key"}, nil
			}
		}
	}

	if o.acme != nil {
		if err := o.acme.Obtain(hostname, hostname, altNames); err == nil {
			certPEM, keyPEM, readErr := o.store.Read(hostname)
			if readErr == nil {
				if o.metrics != nil {
					o.metrics.CertIssuances.WithLabelValues("acme", "success").Inc()
				}
				return Result{CertPEM: certPEM, KeyPEM: keyPEM,
					CertPath: hostname + ".crt", KeyPath: hostname + ".key"}, nil
			}
		} else {
			o.log.Warn("ACME issuance failed, falling back to self-signed certificate",
				zap.String("host", hostname), zap.Error(err))
			if o.metrics != nil {
				o.metrics.CertIssuances.WithLabelValues("acme", "failure").Inc()
			}
		}
	}

	certPEM, keyPEM, err := selfsigned.Generate(hostname, sans)
	if err != nil {
		return Result{}, fmt.Errorf("certorch: generating fallback certificate for %s: %w", hostname, err)
	}
	if err := o.store.Write(hostname, certPEM, keyPEM); err != nil {
		return Result{}, fmt.Errorf("certorch: writing fallback certificate for %s: %w", hostname, err)
	}
	if o.metrics != nil {
		o.metrics.CertIssuances.WithLabelValues("self-signed-fallback", "success").Inc()
	}
	return Result{CertPEM: certPEM, KeyPEM: keyPEM, CertPath: hostname + ".crt", KeyPath: hostname + ".key"}, nil
}

// coversSANs reports whether have contains every entry of want, case-insensitively.
func coversSANs(have, want []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, h := range have {
		haveSet[strings.ToLower(h)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := haveSet[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return true
}

// serialize ensures only one issuance/parse runs at a time per name.
// Concurrent callers for the same name wait on the in-flight caller's
// WaitGroup instead of racing the filesystem.
func (o *Orchestrator) serialize(name string) (release func()) {
	o.mu.Lock()
	if wg, inFlight := o.issuance[name]; inFlight {
		o.mu.Unlock()
		wg.Wait()
		return func() {}
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	o.issuance[name] = wg
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.issuance, name)
		o.mu.Unlock()
		wg.Done()
	}
}

func (o *Orchestrator) cacheLookup(name string) *tls.Certificate {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.cache[name]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(o.cache, name)
		return nil
	}
	return entry.context
}

func (o *Orchestrator) cacheInsert(name string, cert *tls.Certificate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.cache) >= cacheMaxEntries {
		o.evictEarliestLocked()
	}
	o.cache[name] = &cacheEntry{context: cert, expiresAt: time.Now().Add(cacheTTL)}
}

// invalidateAllLocal drops cached contexts for local-like hosts so the next
// getContext rebuilds them from the freshly rewritten combined cert.
func (o *Orchestrator) invalidateAllLocal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name := range o.cache {
		if IsLocalLike(name) {
			delete(o.cache, name)
		}
	}
}

func (o *Orchestrator) evictEarliestLocked() {
	var earliestName string
	var earliestAt time.Time
	first := true
	for name, entry := range o.cache {
		if first || entry.expiresAt.Before(earliestAt) {
			earliestName = name
			earliestAt = entry.expiresAt
			first = false
		}
	}
	if earliestName != "" {
		delete(o.cache, earliestName)
	}
}

func (o *Orchestrator) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		o.sweepExpired()
	}
}

func (o *Orchestrator) sweepExpired() {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	for name, entry := range o.cache {
		if now.After(entry.expiresAt) {
			delete(o.cache, name)
		}
	}
}
