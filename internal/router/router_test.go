package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ferrohq/gatewayd/internal/events"
	"github.com/ferrohq/gatewayd/internal/gwconfig"
)

type fakeLister struct{ apps []gwconfig.App }

func (f fakeLister) All() []gwconfig.App { return f.apps }

func TestNormalizeHostStripsPortAndLowercases(t *testing.T) {
	cases := map[string]string{
		"Example.COM:8080": "example.com",
		"example.com":      "example.com",
		"[::1]:4443":       "[::1]",
		"  Spaced.Test  ":  "spaced.test",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeHost(in), "NormalizeHost(%q)", in)
	}
}

func TestLookupCaseInsensitive(t *testing.T) {
	r := New(fakeLister{apps: []gwconfig.App{{Host: "App.Example.com"}}})

	app, ok := r.Lookup("app.example.com:4443")
	assert.True(t, ok, "expected lookup to succeed case-insensitively")
	assert.Equal(t, "App.Example.com", app.Host)
}

func TestRebuildOnEvent(t *testing.T) {
	lister := &mutableLister{}
	bus := events.New()
	r := New(lister)
	r.Subscribe(bus)

	_, ok := r.Lookup("new.test")
	assert.False(t, ok, "expected no match before app is added")

	lister.apps = []gwconfig.App{{Host: "new.test"}}
	bus.Publish(events.Event{Kind: events.AppAdded, Host: "new.test"})

	_, ok = r.Lookup("new.test")
	assert.True(t, ok, "expected match after AppAdded rebuild")
}

type mutableLister struct{ apps []gwconfig.App }

func (m *mutableLister) All() []gwconfig.App { return m.apps }
