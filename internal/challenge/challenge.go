// Package challenge implements the shared ChallengeTable singleton (§3,
// §5): a token -> key-authorization map mutated only by the ACME issuer
// (C3) for the duration of one issuance, and read by the HTTP/ACME
// listener (C8).
package challenge

import "sync"

// Table is a concurrency-safe token -> keyAuthorization map. The zero
// value is ready to use.
type Table struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// New returns an empty Table.
func New() *Table {
	return &Table{tokens: make(map[string]string)}
}

// Put stores keyAuth for token, satisfying acmeshim.ChallengeTable.
func (t *Table) Put(token, keyAuth string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens == nil {
		t.tokens = make(map[string]string)
	}
	t.tokens[token] = keyAuth
}

// Delete removes token, satisfying acmeshim.ChallengeTable.
func (t *Table) Delete(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
}

// Get looks up token, satisfying acmehttp.ChallengeTable.
func (t *Table) Get(token string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.tokens[token]
	return v, ok
}
