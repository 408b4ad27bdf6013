// Package tokenfile reads and writes the on-disk credential file: the access
// and refresh credential pair plus the time it was last written. It is a leaf
// package; credstore builds the file-backed Store on top of it.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credential directory.
const DirPerms = 0o700

// File is the on-disk format. The token is serialized with oauth2.Token's own
// JSON tags, so the credentials live under the fixed keys "access_token" and
// "refresh_token".
type File struct {
	Token   *oauth2.Token `json:"token"`
	SavedAt time.Time     `json:"saved_at"`
}

// Load reads a saved credential file. Returns (nil, nil) if the file does not
// exist. A file whose token carries neither credential is reported as an
// error rather than as "logged out" so a truncated write is not silently
// treated as a logout.
func Load(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	if tf.Token.AccessToken == "" && tf.Token.RefreshToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has empty credentials (re-login required)", path)
	}

	return tf.Token, nil
}

// Save writes the credential file atomically (write-to-temp + rename) with
// 0600 permissions. Never logs token values.
func Save(path string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("tokenfile: refusing to save nil token")
	}

	data, err := json.MarshalIndent(File{Token: tok, SavedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the credential file. A missing file is not an error: both
// credentials are already absent.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}
