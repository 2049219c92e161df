package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WordlistManifest maps a wordlist_name (§6) to its expected sha256 hex
// digest, checked after resolving the name to a local path so a tampered or
// stale wordlist file fails fast instead of silently changing scan coverage.
type WordlistManifest map[string]string

// ResolveWordlist resolves name to a path under dir and verifies its
// contents against manifest, when the manifest has an entry for it. An
// absent manifest entry is not an error: not every deployment ships hashes
// for every wordlist.
func ResolveWordlist(dir, name string, manifest WordlistManifest) (string, error) {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("wordlist %q not found at %s: %w", name, path, err)
	}
	want, ok := manifest[name]
	if !ok {
		return path, nil
	}
	got, err := sha256File(path)
	if err != nil {
		return "", fmt.Errorf("wordlist %q: hashing %s: %w", name, path, err)
	}
	if got != want {
		return "", fmt.Errorf("wordlist %q: hash mismatch (got %s, want %s)", name, got, want)
	}
	return path, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
