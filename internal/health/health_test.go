package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ferrohq/gatewayd/internal/events"
	"github.com/ferrohq/gatewayd/internal/gwconfig"
)

func TestStateDefaultsHealthyWithoutHealthURL(t *testing.T) {
	p := New(events.New(), nil)
	st := p.State("never-probed.test")
	if !st.Healthy {
		t.Fatal("expected default healthy state for app without healthUrl")
	}
}

func TestProbeOnceRecordsHealthyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(events.New(), nil)
	app := gwconfig.App{Host: "a.test", HealthURL: srv.URL}
	p.Reconcile(app)
	defer p.Cancel(app.Host)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := p.State(app.Host); st.LastCheckedAt.After(time.Time{}) && st.StatusCode != 0 {
			if !st.Healthy || st.StatusCode != 200 {
				t.Fatalf("expected healthy 200, got %+v", st)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for health probe")
}

func TestProbeOnceRecordsUnhealthyOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(events.New(), nil)
	app := gwconfig.App{Host: "b.test", HealthURL: srv.URL}
	p.Reconcile(app)
	defer p.Cancel(app.Host)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := p.State(app.Host); st.StatusCode != 0 {
			if st.Healthy {
				t.Fatalf("expected unhealthy on 500, got %+v", st)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for health probe")
}

func TestCancelClearsState(t *testing.T) {
	p := New(events.New(), nil)
	app := gwconfig.App{Host: "c.test", HealthURL: "http://127.0.0.1:1"}
	p.Reconcile(app)
	p.Cancel(app.Host)
	st := p.State(app.Host)
	if !st.Healthy {
		t.Fatalf("expected default state restored after cancel, got %+v", st)
	}
}
