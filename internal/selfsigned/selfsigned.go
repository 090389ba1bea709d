// Package selfsigned implements C2: generating RSA-2048/SHA-256 self-signed
// certificates with an arbitrary Subject CN and SAN set, grounded on the
// certificate-generation shape in kserve's
// createSelfSignedTLSCertificate (other_examples), simplified here to a
// true self-signed leaf (no CA) since the orchestrator needs a cert it can
// hand straight to crypto/tls, not one chained to a signing authority.
package selfsigned

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// MinValidity is the minimum lifetime (§4.2: "valid for ≥365 days") the
// issuer ever emits.
const MinValidity = 365 * 24 * time.Hour

// keyBits is the minimum RSA key size (§4.2: "never emits keys weaker than
// 2048 bits").
const keyBits = 2048

// Generate produces a self-signed certificate with the given Subject
// CommonName and SAN DNS names, valid from now for MinValidity, returning
// PEM-encoded cert and key bytes.
func Generate(commonName string, sanNames []string) (certPEM, keyPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("selfsigned: generating key: %w", err)
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("selfsigned: generating serial number: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(MinValidity),
		DNSNames:              sanNames,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("selfsigned: creating certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}
