package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/hooks"
)

const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendKeyring = "keyring"

	ToolsetAPI = "api"
	ToolsetMCP = "mcp"
	ToolsetA2A = "a2a"
)

// Config is the dispatcher configuration file.
type Config struct {
	// MaxConcurrency bounds how many calls of one batch run at once. Zero
	// means unbounded.
	MaxConcurrency int           `yaml:"max_concurrency,omitempty"`
	State          StateConfig   `yaml:"state,omitempty"`
	Toolsets       []Toolset     `yaml:"toolsets,omitempty"`
	Hooks          *hooks.Config `yaml:"hooks,omitempty"`
}

// StateConfig selects where credentials and call bookkeeping live.
type StateConfig struct {
	Backend string `yaml:"backend,omitempty"`
	// Path is the database file for sqlite and the vault directory for the
	// keyring file backend.
	Path    string        `yaml:"path,omitempty"`
	Keyring KeyringConfig `yaml:"keyring,omitempty"`
}

type KeyringConfig struct {
	Service string `yaml:"service,omitempty"`
	Backend string `yaml:"backend,omitempty"`
	// PasswordEnv names the environment variable holding the file vault
	// password.
	PasswordEnv string `yaml:"password_env,omitempty"`
}

// Toolset is one source of tools.
type Toolset struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// api
	Operations []Operation `yaml:"operations,omitempty"`

	// mcp over stdio
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	// EnvFiles are dotenv files read before Env, relative to the config.
	EnvFiles []string `yaml:"env_file,omitempty"`
	Cwd      string   `yaml:"cwd,omitempty"`

	// remote mcp and a2a
	URL       string            `yaml:"url,omitempty"`
	Transport string            `yaml:"transport,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`

	Auth *AuthConfig `yaml:"auth,omitempty"`
}

// Operation is one HTTP endpoint of an api toolset.
type Operation struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Method      string            `yaml:"method,omitempty"`
	Endpoint    string            `yaml:"endpoint"`
	Query       []string          `yaml:"query,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Args        map[string]any    `yaml:"args,omitempty"`
	Required    []string          `yaml:"required,omitempty"`
	LongRunning bool              `yaml:"long_running,omitempty"`
	Auth        *AuthConfig       `yaml:"auth,omitempty"`
}

// AuthConfig is an auth.Config written in YAML. It accepts the same field
// names as the JSON wire form, authScheme and rawAuthCredential.
type AuthConfig struct {
	auth.Config
}

func (a *AuthConfig) UnmarshalYAML(data []byte) error {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(jsonData, &a.Config); err != nil {
		return fmt.Errorf("invalid auth block: %w", err)
	}
	return nil
}

// AuthFor returns the auth block of a toolset or operation, if any.
func AuthFor(a *AuthConfig) *auth.Config {
	if a == nil {
		return nil
	}
	cfg := a.Config
	return &cfg
}

// ToolAuth finds the auth block that applies to the tool called name
// without connecting to any server. Tools of mcp and a2a toolsets are named
// after their toolset.
func (c *Config) ToolAuth(name string) (*auth.Config, bool) {
	for _, ts := range c.Toolsets {
		switch ts.Type {
		case ToolsetAPI:
			for _, op := range ts.Operations {
				if op.Name != name {
					continue
				}
				if cfg := AuthFor(op.Auth); cfg != nil {
					return cfg, true
				}
				return AuthFor(ts.Auth), ts.Auth != nil
			}
		default:
			if name == ts.Name || strings.HasPrefix(name, ts.Name+"_") {
				return AuthFor(ts.Auth), ts.Auth != nil
			}
		}
	}
	return nil, false
}
