// Package certstore implements C1: reading and writing PEM certificate/key
// pairs on disk, and parsing the Subject CN / SAN DNS names out of a
// certificate so the orchestrator (C4) can decide whether to reuse one.
// Grounded on the teacher's `caddy/letsencrypt/crypto.go`, which performs
// the same load/save-PEM-pair dance for its own certificate cache.
package certstore

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalGatewayName is the canonical record name for the combined
// local-like certificate (§3, §4.1).
const LocalGatewayName = "local-gateway"

// Store reads and writes certificate/key pairs under a single directory.
// Two naming schemes coexist: per-host `<name>.crt`/`.key` for public/ACME
// certs, and `local-gateway.crt`/`.key` for the combined local record — both
// addressed by the same Read/Write API keyed on name.
type Store struct {
	dir string
	log *zap.Logger
}

// New returns a Store rooted at dir. dir is created if it does not exist.
func New(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("certstore: creating %s: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) certPath(name string) string { return filepath.Join(s.dir, name+".crt") }
func (s *Store) keyPath(name string) string  { return filepath.Join(s.dir, name+".key") }

// Read loads the cert and key PEM bytes for name. Returns os.ErrNotExist
// (wrapped) if either file is absent.
func (s *Store) Read(name string) (certPEM, keyPEM []byte, err error) {
	certPEM, err = os.ReadFile(s.certPath(name))
	if err != nil {
		return nil, nil, fmt.Errorf("certstore: reading cert %s: %w", name, err)
	}
	keyPEM, err = os.ReadFile(s.keyPath(name))
	if err != nil {
		return nil, nil, fmt.Errorf("certstore: reading key %s: %w", name, err)
	}
	return certPEM, keyPEM, nil
}

// Write atomically replaces the cert and key files for name via
// write-to-temp-then-rename, writing the key first so a reader never
// observes a cert.pem with no matching key.pem (I5/the "Atomic cert
// replacement" property in §8).
func (s *Store) Write(name string, certPEM, keyPEM []byte) error {
	if err := writeFileAtomic(s.keyPath(name), keyPEM, 0o600); err != nil {
		return fmt.Errorf("certstore: writing key %s: %w", name, err)
	}
	if err := writeFileAtomic(s.certPath(name), certPEM, 0o644); err != nil {
		return fmt.Errorf("certstore: writing cert %s: %w", name, err)
	}
	return nil
}

// Exists reports whether both the cert and key file for name are present.
func (s *Store) Exists(name string) bool {
	if _, err := os.Stat(s.certPath(name)); err != nil {
		return false
	}
	if _, err := os.Stat(s.keyPath(name)); err != nil {
		return false
	}
	return true
}

// ParsedCert is the result of parsing a certificate's Subject CN and SAN
// DNS names (§4.1).
type ParsedCert struct {
	SubjectCN   string
	SANDNSNames []string
	NotAfter    int64 // unix seconds
}

// ParseCert extracts the Subject CN (truncated at the first comma,
// newline, or slash) and lowercased SAN DNS names from a PEM-encoded
// certificate. It tolerates certificates with no SAN extension.
func ParseCert(certPEM []byte) (ParsedCert, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return ParsedCert{}, fmt.Errorf("certstore: no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return ParsedCert{}, fmt.Errorf("certstore: parsing certificate: %w", err)
	}

	cn := cert.Subject.CommonName
	if idx := strings.IndexAny(cn, ",\n/"); idx >= 0 {
		cn = cn[:idx]
	}

	names := make([]string, 0, len(cert.DNSNames))
	for _, n := range cert.DNSNames {
		names = append(names, strings.ToLower(n))
	}

	return ParsedCert{
		SubjectCN:   cn,
		SANDNSNames: names,
		NotAfter:    cert.NotAfter.Unix(),
	}, nil
}

// ReadAndParse is a convenience wrapper combining Read and ParseCert; it
// returns the raw PEM bytes alongside the parsed fields so callers that
// need to reuse the cert (e.g. build a tls.Certificate) don't re-read.
func (s *Store) ReadAndParse(name string) (certPEM, keyPEM []byte, parsed ParsedCert, err error) {
	certPEM, keyPEM, err = s.Read(name)
	if err != nil {
		return nil, nil, ParsedCert{}, err
	}
	parsed, err = ParseCert(certPEM)
	if err != nil {
		s.log.Warn("corrupt certificate on disk", zap.String("name", name), zap.Error(err))
		return nil, nil, ParsedCert{}, err
	}
	if len(parsed.SANDNSNames) == 0 {
		s.log.Debug("certificate has no SAN extension", zap.String("name", name))
	}
	return certPEM, keyPEM, parsed, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}
