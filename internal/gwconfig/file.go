package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ACME holds the ACME account and directory settings from the config file
// (§6).
type ACME struct {
	DirectoryURL string `json:"directoryUrl"`
	ConfigDir    string `json:"configDir"`
}

// File is the on-disk JSON configuration document (§6). Apps is the only
// field this package actively mutates; every other top-level key keeps its
// value across rewrites via rawExtra (insignificant whitespace inside the
// value is compacted on Save), the same way the teacher
// leaves unrecognized Caddyfile/JSON keys alone rather than normalizing
// them away.
type File struct {
	Email        string `json:"email"`
	AgreeToTerms bool   `json:"agreeToTerms"`
	AdminToken   string `json:"adminToken,omitempty"`
	ACME         ACME   `json:"acme"`
	Apps         []App  `json:"apps"`

	rawExtra map[string]json.RawMessage
	path     string
}

// knownKeys are the top-level keys this struct understands; everything else
// round-trips through rawExtra untouched.
var knownKeys = map[string]struct{}{
	"email": {}, "agreeToTerms": {}, "adminToken": {}, "acme": {}, "apps": {},
}

// Load reads and parses the configuration file at path. Keys this struct
// does not recognize are retained in memory so Save can write their values
// back unchanged, in compact JSON form.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if _, known := knownKeys[k]; !known {
			extra[k] = v
		}
	}
	f.rawExtra = extra
	f.path = path
	return &f, nil
}

// Save writes f back to its original path using write-to-temp-then-rename,
// the same atomicity idiom §4.1 mandates for certificate files, generalized
// here so readers (including this same process on the next load) never
// observe a partially written config (I3).
func (f *File) Save() error {
	if f.path == "" {
		return fmt.Errorf("config: Save called on a File not loaded from disk")
	}
	return f.SaveAs(f.path)
}

// SaveAs writes f to an arbitrary path, merging in any preserved unknown
// top-level keys.
func (f *File) SaveAs(path string) error {
	merged := make(map[string]json.RawMessage, len(f.rawExtra)+5)
	for k, v := range f.rawExtra {
		merged[k] = v
	}

	known, err := json.Marshal(struct {
		Email        string `json:"email"`
		AgreeToTerms bool   `json:"agreeToTerms"`
		AdminToken   string `json:"adminToken,omitempty"`
		ACME         ACME   `json:"acme"`
		Apps         []App  `json:"apps"`
	}{f.Email, f.AgreeToTerms, f.AdminToken, f.ACME, f.Apps})
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return fmt.Errorf("remarshaling config: %w", err)
	}
	for k, v := range knownMap {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshaling merged config: %w", err)
	}

	return writeFileAtomic(path, out, 0o600)
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so a concurrent reader never observes a
// half-written file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

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
