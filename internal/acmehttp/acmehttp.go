// Package acmehttp implements C8: the plain-HTTP listener that answers
// ACME HTTP-01 challenges and 301-redirects everything else to HTTPS.
package acmehttp

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/router"
)

const challengePrefix = "/.well-known/acme-challenge/"

// ChallengeTable is the shared token -> keyAuthorization store (§4.3/§4.8).
type ChallengeTable interface {
	Get(token string) (string, bool)
}

// Delegate is the pluggable request handler the admin collaborator
// installs (§4.8, §6 "Control-plane hook"). Handled reports whether the
// delegate fully answered the request.
type Delegate interface {
	Handle(w http.ResponseWriter, r *http.Request) (handled bool)
}

// Handler serves the HTTP/ACME listener.
type Handler struct {
	challenges ChallengeTable
	httpsPort  int
	delegate   Delegate
	log        *zap.Logger
}

// New builds a Handler. httpsPort is appended to the redirect Location
// unless it is 443 (§4.8). delegate may be nil.
func New(challenges ChallengeTable, httpsPort int, delegate Delegate, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{challenges: challenges, httpsPort: httpsPort, delegate: delegate, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.delegate != nil && h.delegate.Handle(w, r) {
		return
	}

	if strings.HasPrefix(r.URL.Path, challengePrefix) {
		h.serveChallenge(w, r)
		return
	}

	h.redirectToHTTPS(w, r)
}

func (h *Handler) serveChallenge(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, challengePrefix)
	if token == "" {
		http.NotFound(w, r)
		return
	}
	keyAuth, ok := h.challenges.Get(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, keyAuth)
}

func (h *Handler) redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	hostname := router.NormalizeHost(r.Host)
	if hostname == "" {
		hostname = "localhost"
	}

	authority := hostname
	if h.httpsPort != 443 {
		authority = fmt.Sprintf("%s:%d", hostname, h.httpsPort)
	}

	target := fmt.Sprintf("https://%s%s", authority, r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}
