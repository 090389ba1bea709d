package acmeshim

import (
	"sync"
	"testing"
)

type memTable struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemTable() *memTable { return &memTable{tokens: make(map[string]string)} }

func (t *memTable) Put(token, keyAuth string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = keyAuth
}

func (t *memTable) Delete(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
}

func TestHTTP01ProviderPresentAndCleanUp(t *testing.T) {
	table := newMemTable()
	p := &http01Provider{table: table}

	if err := p.Present("a.test", "tok1", "auth1"); err != nil {
		t.Fatal(err)
	}
	table.mu.Lock()
	got, ok := table.tokens["tok1"]
	table.mu.Unlock()
	if !ok || got != "auth1" {
		t.Fatalf("expected token present after Present, got %q, %v", got, ok)
	}

	if err := p.CleanUp("a.test", "tok1", "auth1"); err != nil {
		t.Fatal(err)
	}
	table.mu.Lock()
	_, ok = table.tokens["tok1"]
	table.mu.Unlock()
	if ok {
		t.Fatal("expected token removed after CleanUp")
	}
}

func TestLoadOrCreateAccountKeyGeneratesFreshKey(t *testing.T) {
	dir := t.TempDir()
	c := &Client{accountDir: dir, email: "ops@example.com"}

	user, err := c.loadOrCreateAccountKey()
	if err != nil {
		t.Fatal(err)
	}
	if user.Email != "ops@example.com" {
		t.Fatalf("email = %q", user.Email)
	}
	if user.key == nil {
		t.Fatal("expected generated key")
	}
}

func TestSaveAndReloadAccountKey(t *testing.T) {
	dir := t.TempDir()
	c := &Client{accountDir: dir, email: "ops@example.com"}

	user, err := c.loadOrCreateAccountKey()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.saveAccount(user); err != nil {
		t.Fatal(err)
	}

	reloaded, err := c.loadOrCreateAccountKey()
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.key.X.Cmp(user.key.X) != 0 || reloaded.key.Y.Cmp(user.key.Y) != 0 {
		t.Fatal("expected reloaded key to match saved key")
	}
}
