package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemapp/tandem-go/internal/config"
	"github.com/tandemapp/tandem-go/internal/tokenfile"
)

func TestLoginCmd_SavesToken(t *testing.T) {
	dataDir := t.TempDir()

	err := runCLI(t, dataDir, "login", "--token", "tok-abc123", "--account", "alice")
	require.NoError(t, err)

	tok, meta, err := tokenfile.Load(config.TokenPathIn(dataDir))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "tok-abc123", tok.AccessToken)
	assert.Equal(t, "alice", meta[tokenfile.MetaAccount])
}

func TestLoginCmd_RecordsServer(t *testing.T) {
	dataDir := t.TempDir()

	err := runCLI(t, dataDir, "login", "--token", "tok-xyz", "--server", "https://tandem.example.com")
	require.NoError(t, err)

	_, meta, err := tokenfile.Load(config.TokenPathIn(dataDir))
	require.NoError(t, err)
	assert.Equal(t, "https://tandem.example.com", meta[tokenfile.MetaServer])
}

func TestLoginCmd_RequiresToken(t *testing.T) {
	err := runCLI(t, t.TempDir(), "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token is required")
}

func TestLoginCmd_OverwritesPreviousToken(t *testing.T) {
	dataDir := t.TempDir()

	require.NoError(t, runCLI(t, dataDir, "login", "--token", "first"))
	require.NoError(t, runCLI(t, dataDir, "login", "--token", "second"))

	tok, _, err := tokenfile.Load(config.TokenPathIn(dataDir))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "second", tok.AccessToken)
}

func TestLogoutCmd_RemovesToken(t *testing.T) {
	dataDir := t.TempDir()

	require.NoError(t, runCLI(t, dataDir, "login", "--token", "tok-gone"))
	require.NoError(t, runCLI(t, dataDir, "logout"))

	tok, _, err := tokenfile.Load(config.TokenPathIn(dataDir))
	require.NoError(t, err)
	assert.Nil(t, tok, "token file should be gone after logout")
}

func TestLogoutCmd_IdempotentWhenNotLoggedIn(t *testing.T) {
	dataDir := t.TempDir()

	require.NoError(t, runCLI(t, dataDir, "logout"))
	require.NoError(t, runCLI(t, dataDir, "logout"))
}

func TestWhoamiCmd_RunsWithoutToken(t *testing.T) {
	dataDir := t.TempDir()

	require.NoError(t, runCLI(t, dataDir, "whoami"))
	require.NoError(t, runCLI(t, dataDir, "--json", "whoami"))
}

func TestWhoamiCmd_RunsAfterLogin(t *testing.T) {
	dataDir := t.TempDir()

	require.NoError(t, runCLI(t, dataDir, "login", "--token", "tok", "--account", "bob"))
	require.NoError(t, runCLI(t, dataDir, "whoami"))
}

func TestLoginCmd_WorksWithBrokenConfig(t *testing.T) {
	// A corrupt config file must never lock the user out of fixing
	// their credentials, so auth commands skip config resolution.
	clearAmbientEnv(t)

	dataDir := t.TempDir()
	badConfig := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(badConfig, []byte("this is [not toml"), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", badConfig, "--data-dir", dataDir, "--quiet", "login", "--token", "tok-rescue"})
	require.NoError(t, cmd.Execute())

	tok, _, err := tokenfile.Load(config.TokenPathIn(dataDir))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "tok-rescue", tok.AccessToken)
}
