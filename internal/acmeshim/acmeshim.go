// Package acmeshim implements C3: driving ACME HTTP-01 issuance for a host
// and its altNames, generalized from
// MahdiBaghbani-opencloudmesh-go's internal/platform/http/tls/acme.go —
// same lego.Client + in-process HTTP01Provider shape, but accepting a SAN
// list instead of a single domain, sharing one ChallengeTable across every
// in-flight issuance instead of owning a private token map, and writing the
// result through certstore instead of directly to fixed cert.pem/key.pem
// paths.
package acmeshim

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/certstore"
)

// ChallengeTable is the shared token -> keyAuthorization store C8's HTTP
// listener serves from (§4.8). It is the same interface regardless of how
// many issuances are in flight concurrently.
type ChallengeTable interface {
	Put(token, keyAuth string)
	Delete(token string)
}

type acmeUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          *ecdsa.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// http01Provider adapts the shared ChallengeTable to lego's
// challenge.Provider interface.
type http01Provider struct {
	table ChallengeTable
}

func (p *http01Provider) Present(domain, token, keyAuth string) error {
	p.table.Put(token, keyAuth)
	return nil
}

func (p *http01Provider) CleanUp(domain, token, keyAuth string) error {
	p.table.Delete(token)
	return nil
}

// Client drives ACME HTTP-01 issuance using a single account shared across
// every host this process obtains certificates for (one registration, many
// orders — the teacher's ACMEManager instead holds one domain per manager;
// this shim is the multi-host generalization §4.3 calls for).
type Client struct {
	directoryURL string
	email        string
	accountDir   string
	table        ChallengeTable
	store        *certstore.Store
	log          *zap.Logger

	legoClient *lego.Client
}

// Config bundles the account and directory settings from the config file's
// `acme` section (§6).
type Config struct {
	DirectoryURL string
	Email        string
	AccountDir   string
}

// New builds a Client and performs account registration if no account key
// exists yet under cfg.AccountDir.
func New(cfg Config, table ChallengeTable, store *certstore.Store, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.AccountDir, 0o700); err != nil {
		return nil, fmt.Errorf("acmeshim: creating account dir: %w", err)
	}

	c := &Client{
		directoryURL: cfg.DirectoryURL,
		email:        cfg.Email,
		accountDir:   cfg.AccountDir,
		table:        table,
		store:        store,
		log:          log,
	}

	user, err := c.loadOrCreateAccountKey()
	if err != nil {
		return nil, fmt.Errorf("acmeshim: loading account key: %w", err)
	}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = cfg.DirectoryURL
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	legoClient, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("acmeshim: creating lego client: %w", err)
	}
	if err := legoClient.Challenge.SetHTTP01Provider(&http01Provider{table: table}); err != nil {
		return nil, fmt.Errorf("acmeshim: setting HTTP-01 provider: %w", err)
	}
	c.legoClient = legoClient

	if user.Registration == nil {
		reg, err := legoClient.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("acmeshim: registering ACME account: %w", err)
		}
		user.Registration = reg
		if err := c.saveAccount(user); err != nil {
			log.Warn("failed to persist ACME account registration", zap.Error(err))
		}
	}

	return c, nil
}

// Obtain creates an account key on first use (handled in New), builds a
// CSR with commonName = host and SAN DNS names = altNames (or [host] when
// altNames is empty), drives the ACME automation, and writes the resulting
// PEM cert/key through the certificate store under name. Non-fatal: the
// caller (C4) is expected to fall back to a self-signed certificate on
// error (§4.3).
func (c *Client) Obtain(name, host string, altNames []string) error {
	domains := altNames
	if len(domains) == 0 {
		domains = []string{host}
	}

	c.log.Info("obtaining ACME certificate", zap.String("host", host), zap.Strings("domains", domains))

	result, err := c.legoClient.Certificate.Obtain(certificate.ObtainRequest{
		Domains: domains,
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("acmeshim: obtaining certificate for %s: %w", host, err)
	}

	if err := c.store.Write(name, result.Certificate, result.PrivateKey); err != nil {
		return fmt.Errorf("acmeshim: persisting certificate for %s: %w", host, err)
	}

	c.log.Info("ACME certificate obtained", zap.String("host", host))
	return nil
}

func (c *Client) accountKeyPath() string  { return filepath.Join(c.accountDir, "account.key") }
func (c *Client) accountMetaPath() string { return filepath.Join(c.accountDir, "account.json") }

func (c *Client) loadOrCreateAccountKey() (*acmeUser, error) {
	keyData, keyErr := os.ReadFile(c.accountKeyPath())
	metaData, metaErr := os.ReadFile(c.accountMetaPath())
	if keyErr == nil && metaErr == nil {
		key, err := certcrypto.ParsePEMPrivateKey(keyData)
		if err == nil {
			if ecKey, ok := key.(*ecdsa.PrivateKey); ok {
				user := &acmeUser{key: ecKey}
				if err := json.Unmarshal(metaData, user); err == nil {
					return user, nil
				}
			}
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating account key: %w", err)
	}
	return &acmeUser{Email: c.email, key: key}, nil
}

func (c *Client) saveAccount(user *acmeUser) error {
	metaData, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling account metadata: %w", err)
	}
	if err := os.WriteFile(c.accountMetaPath(), metaData, 0o600); err != nil {
		return err
	}
	keyPEM := certcrypto.PEMEncode(user.key)
	return os.WriteFile(c.accountKeyPath(), keyPEM, 0o600)
}
