// Package tokenfile handles reading and writing the Tandem API credential
// file. Token files store an OAuth2 bearer token alongside cached account
// metadata (account name, server URL). This is a leaf package imported by
// both the CLI and the e2e harness so credential handling lives in exactly
// one place.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// Metadata keys cached alongside the token.
const (
	MetaAccount = "account" // account name shown by whoami
	MetaServer  = "server"  // base URL the token was issued for
)

// File is the on-disk format for token files. Includes the OAuth token and
// optional metadata cached at login time.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// decode parses a token file from disk. A missing file yields (nil, nil) so
// callers can distinguish "not logged in" from real failures.
func decode(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil //nolint:nilnil // sentinel for "not found"
	case err != nil:
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	return &tf, nil
}

// Load reads a saved token file from disk. Returns the OAuth token and any
// cached metadata, or (nil, nil, nil) when no token file exists.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	tf, err := decode(path)
	if err != nil || tf == nil {
		return nil, nil, err
	}

	if tf.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	if tf.Token.AccessToken == "" && tf.Token.RefreshToken == "" {
		return nil, nil, fmt.Errorf("tokenfile: %s holds empty credentials (re-login required)", path)
	}

	return tf.Token, tf.Meta, nil
}

// ReadMeta reads just the metadata from a token file. Unlike Load it does
// not insist on usable credentials, so whoami can still show the account
// name from a file holding an expired or malformed token.
func ReadMeta(path string) (map[string]string, error) {
	tf, err := decode(path)
	if err != nil || tf == nil {
		return nil, err
	}

	return tf.Meta, nil
}

// Save writes a token file to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	if tok == nil {
		return errors.New("tokenfile: refusing to save nil token")
	}

	data, err := json.MarshalIndent(File{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	// The temp file must live in the same directory so the rename stays on
	// one filesystem and therefore atomic.
	tmpPath, err := writeTemp(dir, data)
	if err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	return nil
}

// writeTemp creates a 0600 temp file in dir holding data, synced to stable
// storage, and returns its path. The file is removed on any error.
func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return "", fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	fail := func(e error) (string, error) {
		tmp.Close()
		os.Remove(tmp.Name())

		return "", e
	}

	if err := tmp.Chmod(FilePerms); err != nil {
		return fail(fmt.Errorf("tokenfile: setting permissions: %w", err))
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(fmt.Errorf("tokenfile: writing: %w", err))
	}

	// A power loss between close and rename must not leave an empty or
	// partial token file at the final path.
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("tokenfile: syncing: %w", err))
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return "", fmt.Errorf("tokenfile: closing: %w", err)
	}

	return tmp.Name(), nil
}

// Delete removes the token file. Missing files are not an error so logout
// is idempotent.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}

// LoadAndMergeMeta reads the current token file, merges new metadata keys
// (new keys overwrite existing), and saves. Returns an error if the file
// does not exist or has no token.
func LoadAndMergeMeta(path string, meta map[string]string) error {
	tok, existing, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading token for metadata update: %w", err)
	}

	if tok == nil {
		return fmt.Errorf("no token file at %s", path)
	}

	if existing == nil {
		existing = make(map[string]string, len(meta))
	}

	maps.Copy(existing, meta)

	return Save(path, tok, existing)
}
