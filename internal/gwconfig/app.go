// Package gwconfig holds the App data model (§3) and the on-disk JSON
// configuration file (§6), loaded and persisted the way the teacher loads
// and autosaves its config in caddy.go, generalized to this repo's
// temp-file-and-rename atomicity requirement.
package gwconfig

import "fmt"

// Upstream is the explicit backend address for an App. Absent means the
// app has no proxy backend of its own (e.g. it only serves staticDir, or it
// is addressed through Port instead).
type Upstream struct {
	Scheme             string `json:"scheme"`
	Host               string `json:"host"`
	Port               int    `json:"port"`
	RejectUnauthorized *bool  `json:"rejectUnauthorized,omitempty"`
}

// App is the routing/supervision unit keyed by lowercased Host (I1).
type App struct {
	Host         string   `json:"host"`
	AltNames     []string `json:"altNames,omitempty"`
	PreserveHost bool     `json:"preserveHost,omitempty"`

	Upstream *Upstream `json:"upstream,omitempty"`
	Port     *int      `json:"port,omitempty"`
	StaticDir string   `json:"staticDir,omitempty"`

	Cwd   string `json:"cwd,omitempty"`
	Start string `json:"start,omitempty"`

	HealthURL        string `json:"healthUrl,omitempty"`
	HealthIntervalMs int    `json:"healthIntervalMs,omitempty"`

	Disabled    bool  `json:"disabled,omitempty"`
	AutoRestart *bool `json:"autoRestart,omitempty"`
	AutoInstall *bool `json:"autoInstall,omitempty"`
}

// DefaultHealthIntervalMs is used when HealthIntervalMs is unset (§3).
const DefaultHealthIntervalMs = 15000

// EffectiveHealthInterval returns the configured probe interval or the
// default of 15s.
func (a *App) EffectiveHealthInterval() int {
	if a.HealthIntervalMs > 0 {
		return a.HealthIntervalMs
	}
	return DefaultHealthIntervalMs
}

// AutoRestartEnabled returns the effective autoRestart value, defaulting to
// true when unset (§3).
func (a *App) AutoRestartEnabled() bool {
	return a.AutoRestart == nil || *a.AutoRestart
}

// AutoInstallEnabled returns the effective autoInstall value, defaulting to
// true when unset (§3).
func (a *App) AutoInstallEnabled() bool {
	return a.AutoInstall == nil || *a.AutoInstall
}

// Supervised reports whether this app has a command to run at all; apps
// without Start are externally managed (§3).
func (a *App) Supervised() bool {
	return a.Start != ""
}

// IsStatic reports whether the app serves a static directory instead of
// proxying (§3, §4.9.3) — mutually exclusive with proxying at request time.
func (a *App) IsStatic() bool {
	return a.StaticDir != ""
}

// UpstreamTarget resolves the effective proxy target as
// scheme://host:port, preferring an explicit Upstream over the Port
// shorthand (§3: "implies http://127.0.0.1:port when upstream absent").
func (a *App) UpstreamTarget() (scheme, host string, port int, rejectUnauthorized bool, ok bool) {
	if a.Upstream != nil {
		scheme = a.Upstream.Scheme
		if scheme == "" {
			scheme = "http"
		}
		host = a.Upstream.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port = a.Upstream.Port
		rejectUnauthorized = a.Upstream.RejectUnauthorized == nil || *a.Upstream.RejectUnauthorized
		return scheme, host, port, rejectUnauthorized, true
	}
	if a.Port != nil {
		return "http", "127.0.0.1", *a.Port, true, true
	}
	return "", "", 0, false, false
}

// Validate checks the invariants that must hold for a single App in
// isolation (the I1 duplicate-host check is cross-app and lives in the
// registry that owns the full set; port conflicts are checked by the
// supervisor when a child starts).
func (a *App) Validate() error {
	if a.Host == "" {
		return fmt.Errorf("app: host is required")
	}
	if a.IsStatic() {
		if a.Upstream != nil || a.Port != nil {
			return fmt.Errorf("app %s: staticDir is mutually exclusive with upstream/port", a.Host)
		}
	}
	return nil
}
