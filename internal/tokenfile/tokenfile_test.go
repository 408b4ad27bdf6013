package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoad_FileNotFound(t *testing.T) {
	tok, err := Load("/nonexistent/path/credentials.json")
	assert.Nil(t, tok)
	assert.NoError(t, err)
}

func TestLoad_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	expiry := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, Save(path, &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "bearer",
		Expiry:       expiry,
	}))

	tok, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-123", tok.AccessToken)
	assert.Equal(t, "refresh-456", tok.RefreshToken)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(expiry))
}

func TestSave_UsesFixedKeyNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a", RefreshToken: "r"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"access_token": "a"`)
	assert.Contains(t, string(data), `"refresh_token": "r"`)
	assert.Contains(t, string(data), `"saved_at"`)
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"old","refresh_token":"old"}`), 0o600))

	tok, err := Load(path)
	assert.Nil(t, tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	tok, err := Load(path)
	assert.Nil(t, tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestLoad_EmptyCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"token":{"token_type":"bearer"}}`), 0o600))

	tok, err := Load(path)
	assert.Nil(t, tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty credentials")
}

func TestSave_NilToken(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "credentials.json"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to save nil token")
}

func TestSave_CreatesDirectoryWithOwnerOnlyPerms(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "sub", "dir", "credentials.json")

	require.NoError(t, Save(nested, &oauth2.Token{AccessToken: "a", RefreshToken: "r"}))

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(nested))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerms), dirInfo.Mode().Perm())
}

func TestSave_OverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")

	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "first", RefreshToken: "r1"}))
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "second", RefreshToken: "r2"}))

	tok, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)
	assert.Equal(t, "r2", tok.RefreshToken)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a", RefreshToken: "r"}))

	require.NoError(t, Remove(path))

	tok, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, tok)

	// Removing again is a no-op.
	assert.NoError(t, Remove(path))
}
