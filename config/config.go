// Package config loads agent credentials and platform endpoints. Sources
// layer in order: agent_config.yaml (multi-agent credential file in the
// working directory), then .env, then real environment variables; later
// sources win.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/thenvoi/thenvoi-go/platform"
)

// Environment variables consumed by Load.
const (
	EnvAgentID = "THENVOI_AGENT_ID"
	EnvAPIKey  = "THENVOI_API_KEY"
	EnvWSURL   = "THENVOI_WS_URL"
	EnvRESTURL = "THENVOI_REST_URL"
)

// ConfigFile is the per-project credential file name. Agents are created on
// the platform as external agents and their credentials pasted here.
const ConfigFile = "agent_config.yaml"

// Settings is everything needed to run one agent.
type Settings struct {
	Credentials platform.Credentials
	Platform    platform.Config
}

type agentEntry struct {
	AgentID string `yaml:"agent_id"`
	APIKey  string `yaml:"api_key"`
}

// Load resolves settings for the named agent. agentKey selects an entry in
// agent_config.yaml; with an empty agentKey only the environment is
// consulted. Environment variables override file values.
func Load(agentKey string) (Settings, error) {
	_ = godotenv.Load()

	var s Settings
	if agentKey != "" {
		entry, err := loadAgentEntry(agentKey)
		if err != nil {
			return Settings{}, err
		}
		s.Credentials.AgentID = entry.AgentID
		s.Credentials.APIKey = entry.APIKey
	}

	if v := os.Getenv(EnvAgentID); v != "" {
		s.Credentials.AgentID = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		s.Credentials.APIKey = v
	}
	s.Platform = platform.DefaultConfig()
	if v := os.Getenv(EnvWSURL); v != "" {
		s.Platform.WSURL = v
	}
	if v := os.Getenv(EnvRESTURL); v != "" {
		s.Platform.RESTURL = v
	}

	if s.Credentials.AgentID == "" || s.Credentials.APIKey == "" {
		return Settings{}, fmt.Errorf("agent credentials missing: set %s and %s or add agent %q to %s",
			EnvAgentID, EnvAPIKey, agentKey, ConfigFile)
	}
	return s, nil
}

func loadAgentEntry(agentKey string) (agentEntry, error) {
	path := filepath.Join(".", ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return agentEntry{}, fmt.Errorf("%s not found: create it with your agents' credentials", ConfigFile)
		}
		return agentEntry{}, fmt.Errorf("read %s: %w", ConfigFile, err)
	}

	var entries map[string]agentEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return agentEntry{}, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}

	entry, ok := entries[agentKey]
	if !ok {
		return agentEntry{}, fmt.Errorf("agent %q not found in %s", agentKey, ConfigFile)
	}
	if entry.AgentID == "" || entry.APIKey == "" {
		return agentEntry{}, fmt.Errorf("agent %q in %s is missing agent_id or api_key", agentKey, ConfigFile)
	}
	return entry, nil
}
