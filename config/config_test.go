package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAgentID, EnvAPIKey, EnvWSURL, EnvRESTURL} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte(content), 0o600))
}

func TestLoadFromConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)
	writeConfigFile(t, dir, `
helper:
  agent_id: agent-1
  api_key: key-1
critic:
  agent_id: agent-2
  api_key: key-2
`)

	s, err := Load("helper")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", s.Credentials.AgentID)
	assert.Equal(t, "key-1", s.Credentials.APIKey)
	assert.Equal(t, "wss://api.thenvoi.com/ws", s.Platform.WSURL)

	s, err = Load("critic")
	require.NoError(t, err)
	assert.Equal(t, "agent-2", s.Credentials.AgentID)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)
	writeConfigFile(t, dir, `
helper:
  agent_id: agent-1
  api_key: key-1
`)
	t.Setenv(EnvAPIKey, "rotated-key")
	t.Setenv(EnvWSURL, "ws://localhost:4000/ws")
	t.Setenv(EnvRESTURL, "http://localhost:4000")

	s, err := Load("helper")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", s.Credentials.AgentID)
	assert.Equal(t, "rotated-key", s.Credentials.APIKey)
	assert.Equal(t, "ws://localhost:4000/ws", s.Platform.WSURL)
	assert.Equal(t, "http://localhost:4000", s.Platform.RESTURL)
}

func TestLoadEnvOnly(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)
	t.Setenv(EnvAgentID, "agent-env")
	t.Setenv(EnvAPIKey, "key-env")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "agent-env", s.Credentials.AgentID)
	assert.Equal(t, "key-env", s.Credentials.APIKey)
}

func TestLoadUnknownAgent(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)
	writeConfigFile(t, dir, `
helper:
  agent_id: agent-1
  api_key: key-1
`)

	_, err := Load("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestLoadMissingFile(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)

	_, err := Load("helper")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ConfigFile)
}

func TestLoadMissingCredentials(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvAgentID)
}

func TestLoadIncompleteEntry(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)
	writeConfigFile(t, dir, `
helper:
  agent_id: agent-1
`)

	_, err := Load("helper")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}
