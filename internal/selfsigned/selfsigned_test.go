package selfsigned

import (
	"testing"
	"time"

	"github.com/ferrohq/gatewayd/internal/certstore"
)

func TestGenerateProducesParseableCert(t *testing.T) {
	certPEM, keyPEM, err := Generate("local-gateway", []string{"local.console", "*.local.console"})
	if err != nil {
		t.Fatal(err)
	}
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		t.Fatal("expected non-empty PEM output")
	}

	parsed, err := certstore.ParseCert(certPEM)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.SubjectCN != "local-gateway" {
		t.Fatalf("CN = %q", parsed.SubjectCN)
	}
	if len(parsed.SANDNSNames) != 2 {
		t.Fatalf("expected 2 SANs, got %v", parsed.SANDNSNames)
	}

	wantNotAfter := time.Now().Add(MinValidity)
	gotNotAfter := time.Unix(parsed.NotAfter, 0)
	if gotNotAfter.Before(wantNotAfter.Add(-time.Minute)) {
		t.Fatalf("expected validity >= %s, got NotAfter = %s", MinValidity, gotNotAfter)
	}
}

func TestGenerateRejectsNothingBelow2048(t *testing.T) {
	// keyBits is a package constant, not a parameter, so there is no
	// caller-supplied weaker-key path to test; this assertion documents the
	// invariant, pinned to the constant itself.
	if keyBits < 2048 {
		t.Fatalf("keyBits must be >= 2048, got %d", keyBits)
	}
}
