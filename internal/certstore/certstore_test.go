package certstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func selfSignedPEM(t *testing.T, cn string, sans []string) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		DNSNames:     sans,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	certPEM, keyPEM := selfSignedPEM(t, "example.test", []string{"example.test", "www.example.test"})
	if err := store.Write("example.test", certPEM, keyPEM); err != nil {
		t.Fatal(err)
	}

	if !store.Exists("example.test") {
		t.Fatal("expected Exists to be true after Write")
	}

	gotCert, gotKey, parsed, err := store.ReadAndParse("example.test")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotCert) == 0 || len(gotKey) == 0 {
		t.Fatal("expected non-empty cert/key bytes")
	}
	if parsed.SubjectCN != "example.test" {
		t.Fatalf("subject CN = %q", parsed.SubjectCN)
	}
	if len(parsed.SANDNSNames) != 2 {
		t.Fatalf("expected 2 SANs, got %v", parsed.SANDNSNames)
	}
}

func TestParseCertTruncatesCNAtSeparators(t *testing.T) {
	certPEM, _ := selfSignedPEM(t, "local-gateway,O=ignored", nil)
	parsed, err := ParseCert(certPEM)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.SubjectCN != "local-gateway" {
		t.Fatalf("expected CN truncated at comma, got %q", parsed.SubjectCN)
	}
}

func TestParseCertToleratesMissingSANs(t *testing.T) {
	certPEM, _ := selfSignedPEM(t, "no-sans.test", nil)
	parsed, err := ParseCert(certPEM)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.SANDNSNames) != 0 {
		t.Fatalf("expected no SANs, got %v", parsed.SANDNSNames)
	}
}

func TestExistsFalseWhenMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if store.Exists("nope") {
		t.Fatal("expected Exists to be false for unwritten name")
	}
}
