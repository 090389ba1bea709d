package proxy

import "testing"

func TestRewriteLocationS3Scenario(t *testing.T) {
	got := rewriteLocation(
		"http://127.0.0.1:3000/done?callback=https://app.example.com/next",
		"127.0.0.1",
		"app.example.com:4443",
	)
	want := "https://app.example.com:4443/done?callback=https%3A%2F%2Fapp.example.com%3A4443%2Fnext"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewriteLocationIdempotent(t *testing.T) {
	first := rewriteLocation(
		"http://127.0.0.1:3000/done?callback=https://app.example.com/next",
		"127.0.0.1",
		"app.example.com:4443",
	)
	second := rewriteLocation(first, "127.0.0.1", "app.example.com:4443")
	if first != second {
		t.Fatalf("rewrite not idempotent: %q != %q", first, second)
	}
}

func TestRewriteLocationLeavesExternalHostsAlone(t *testing.T) {
	got := rewriteLocation("https://other.example.com/path", "127.0.0.1", "app.example.com:4443")
	want := "https://other.example.com/path"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewriteLocationMalformedFallsBackToPrefixReplace(t *testing.T) {
	got := rewriteLocation("http://127.0.0.1:bogus/path", "127.0.0.1", "app.example.com:4443")
	want := "https://app.example.com:4443:bogus/path"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestScrubSetCookieDomainS4Scenario(t *testing.T) {
	got := scrubSetCookieDomain("sid=abc; Domain=backend.internal; Path=/")
	want := "sid=abc; Path=/"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestScrubSetCookieDomainNoop(t *testing.T) {
	got := scrubSetCookieDomain("sid=abc; Path=/")
	want := "sid=abc; Path=/"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
