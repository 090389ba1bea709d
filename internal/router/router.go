// Package router implements C7: a case-insensitive Host-to-App map,
// rebuilt whenever the app registry mutates. Unlike the teacher's
// vhosttrie.go (which matches path prefixes within a host), this spec
// only needs host-level lookup, so a plain map replaces the trie — the
// lowercasing/port-stripping normalization idiom is kept.
package router

import (
	"strings"
	"sync"

	"golang.org/x/net/idna"

	"github.com/ferrohq/gatewayd/internal/events"
	"github.com/ferrohq/gatewayd/internal/gwconfig"
)

// Lister gives the router read access to the current app set.
type Lister interface {
	All() []gwconfig.App
}

// Router is the host router (C7).
type Router struct {
	mu   sync.RWMutex
	apps map[string]gwconfig.App

	lister Lister
}

// New builds a Router and performs an initial build from lister.
func New(lister Lister) *Router {
	r := &Router{lister: lister}
	r.rebuild()
	return r
}

// Subscribe wires the router to the event bus so it rebuilds on every
// mutation event (§4.7, §4.10).
func (r *Router) Subscribe(bus *events.Bus) {
	handler := func(events.Event) { r.rebuild() }
	bus.Subscribe(events.AppAdded, handler)
	bus.Subscribe(events.AppUpdated, handler)
	bus.Subscribe(events.AppRemoved, handler)
}

func (r *Router) rebuild() {
	apps := r.lister.All()
	next := make(map[string]gwconfig.App, len(apps))
	for _, a := range apps {
		next[NormalizeHost(a.Host)] = a
	}

	r.mu.Lock()
	r.apps = next
	r.mu.Unlock()
}

// Lookup resolves a request's Host header to its App. The header is
// lowercased and any port suffix dropped before matching (§4.7,
// property 1).
func (r *Router) Lookup(hostHeader string) (gwconfig.App, bool) {
	name := NormalizeHost(hostHeader)

	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[name]
	return app, ok
}

// NormalizeHost lowercases a Host header, strips any trailing ":<port>"
// suffix (tolerating IPv6 literals in brackets), and converts any
// internationalized domain name to its ASCII/punycode form so a browser
// sending a raw UTF-8 Host header still matches an app configured with its
// ASCII hostname.
func NormalizeHost(hostHeader string) string {
	h := strings.ToLower(strings.TrimSpace(hostHeader))
	if strings.HasPrefix(h, "[") {
		if end := strings.Index(h, "]"); end >= 0 {
			return h[:end+1]
		}
		return h
	}
	if idx := strings.LastIndex(h, ":"); idx >= 0 {
		h = h[:idx]
	}
	if ascii, err := idna.Lookup.ToASCII(h); err == nil {
		return ascii
	}
	return h
}
