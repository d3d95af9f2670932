// Package deploy drives the operational sequence that brings the GitLab
// secrets engine into service on a Vault server: register the plugin
// binary, mount it, tune the mounted version, reload running plugin code,
// write the engine configuration, rotate the bootstrap token, and define
// issuance roles. The sequence is declared in a YAML manifest and applied
// in dependency order.
package deploy

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"gopkg.in/yaml.v3"
)

// Manifest is the declarative deployment document. Every section is
// optional; Apply runs only the sections that are present.
type Manifest struct {
	Plugin *PluginSpec         `yaml:"plugin"`
	Mount  *MountSpec          `yaml:"mount"`
	Tune   *TuneSpec           `yaml:"tune"`
	Reload *ReloadSpec         `yaml:"reload"`
	Config *ConfigSpec         `yaml:"config"`
	Rotate bool                `yaml:"rotate"`
	Roles  map[string]RoleSpec `yaml:"roles"`
}

// PluginSpec registers the plugin binary in Vault's plugin catalog.
// SHA256 may be omitted when Binary points at the plugin executable; the
// checksum is then computed from the file.
type PluginSpec struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Binary  string `yaml:"binary"`
	SHA256  string `yaml:"sha256"`
	Version string `yaml:"version"`
}

// MountSpec activates the plugin at a path.
type MountSpec struct {
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
}

// TuneSpec switches the mounted plugin version without unmounting.
type TuneSpec struct {
	PluginVersion string `yaml:"plugin_version"`
}

// ReloadSpec reloads the plugin's running code after an upgrade. Exactly
// one of Plugin or Mounts must be set; Scope may be empty (local) or
// "global".
type ReloadSpec struct {
	Plugin string   `yaml:"plugin"`
	Mounts []string `yaml:"mounts"`
	Scope  string   `yaml:"scope"`
}

// ConfigSpec is written to <mount>/config. The bootstrap token comes
// either inline or, preferably, from the environment variable named by
// TokenEnv so the manifest itself carries no credential.
type ConfigSpec struct {
	BaseURL                string `yaml:"base_url"`
	Token                  string `yaml:"token"`
	TokenEnv               string `yaml:"token_env"`
	MaxTTL                 string `yaml:"max_ttl"`
	AutoRotateToken        bool   `yaml:"auto_rotate_token"`
	RevokeAutoRotatedToken bool   `yaml:"revoke_auto_rotated_token"`
}

// RoleSpec is written to <mount>/roles/<name>.
type RoleSpec struct {
	Name        string   `yaml:"name"`
	TokenType   string   `yaml:"token_type"`
	Path        string   `yaml:"path"`
	AccessLevel string   `yaml:"access_level"`
	Scopes      []string `yaml:"scopes"`
	TokenTTL    string   `yaml:"token_ttl"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates manifest bytes.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest's internal consistency. All problems are
// reported together.
func (m *Manifest) Validate() error {
	var errs errsx.Map

	if m.Plugin != nil {
		if m.Plugin.Name == "" {
			errs.Set("plugin.name", fmt.Errorf("required"))
		}
		if m.Plugin.Command == "" {
			errs.Set("plugin.command", fmt.Errorf("required"))
		}
		if m.Plugin.SHA256 == "" && m.Plugin.Binary == "" {
			errs.Set("plugin.sha256", fmt.Errorf("either sha256 or binary is required"))
		}
	}

	needsMount := m.Config != nil || m.Rotate || len(m.Roles) > 0 || m.Tune != nil
	if needsMount && (m.Mount == nil || m.Mount.Path == "") {
		errs.Set("mount.path", fmt.Errorf("required by the tune, config, rotate, and roles sections"))
	}

	if m.Reload != nil {
		hasPlugin := m.Reload.Plugin != ""
		hasMounts := len(m.Reload.Mounts) > 0
		if hasPlugin == hasMounts {
			errs.Set("reload", fmt.Errorf("exactly one of plugin or mounts must be set"))
		}
		if m.Reload.Scope != "" && m.Reload.Scope != "global" {
			errs.Set("reload.scope", fmt.Errorf("must be empty or 'global', got %q", m.Reload.Scope))
		}
	}

	if m.Config != nil {
		if m.Config.Token == "" && m.Config.TokenEnv == "" {
			errs.Set("config.token", fmt.Errorf("either token or token_env is required"))
		}
		if m.Config.MaxTTL != "" {
			if _, err := time.ParseDuration(m.Config.MaxTTL); err != nil {
				errs.Set("config.max_ttl", fmt.Errorf("invalid duration: %w", err))
			}
		}
	}

	for name, role := range m.Roles {
		key := "roles." + name
		if role.TokenType == "" {
			errs.Set(key+".token_type", fmt.Errorf("required"))
		}
		if role.Path == "" {
			errs.Set(key+".path", fmt.Errorf("required"))
		}
		if len(role.Scopes) == 0 {
			errs.Set(key+".scopes", fmt.Errorf("required"))
		}
		if role.TokenTTL != "" {
			if _, err := time.ParseDuration(role.TokenTTL); err != nil {
				errs.Set(key+".token_ttl", fmt.Errorf("invalid duration: %w", err))
			}
		}
	}

	return errs.AsError()
}

// resolveToken returns the bootstrap token, reading the environment when
// the manifest names a variable instead of carrying the value.
func (c *ConfigSpec) resolveToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	token := strings.TrimSpace(os.Getenv(c.TokenEnv))
	if token == "" {
		return "", fmt.Errorf("environment variable %s is empty", c.TokenEnv)
	}
	return token, nil
}

// roleNames returns the manifest's role names in stable order.
func (m *Manifest) roleNames() []string {
	names := make([]string, 0, len(m.Roles))
	for name := range m.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
