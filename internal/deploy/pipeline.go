package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// Pipeline applies a Manifest against a Vault server, step by step, in
// the order the steps depend on each other: tune before reload, reload
// before configure, configure before rotate and roles.
type Pipeline struct {
	vault *api.Client
	log   *slog.Logger
}

// New returns a Pipeline over an authenticated Vault API client.
func New(client *api.Client, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{vault: client, log: log}
}

// Apply runs every section present in the manifest.
func (p *Pipeline) Apply(ctx context.Context, m *Manifest) error {
	if m.Plugin != nil {
		if err := p.Register(ctx, m.Plugin); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}
	if m.Mount != nil {
		if err := p.EnsureMount(ctx, m.Mount, m.Plugin); err != nil {
			return fmt.Errorf("mount: %w", err)
		}
	}
	if m.Tune != nil {
		if err := p.Tune(ctx, m.Mount.Path, m.Tune); err != nil {
			return fmt.Errorf("tune: %w", err)
		}
	}
	if m.Reload != nil {
		if err := p.Reload(ctx, m.Reload); err != nil {
			return fmt.Errorf("reload: %w", err)
		}
	}
	if m.Config != nil {
		if err := p.Configure(ctx, m.Mount.Path, m.Config); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	if m.Rotate {
		if err := p.Rotate(ctx, m.Mount.Path); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
	}
	for _, name := range m.roleNames() {
		role := m.Roles[name]
		if err := p.WriteRole(ctx, m.Mount.Path, name, role); err != nil {
			return fmt.Errorf("role %s: %w", name, err)
		}
	}
	return nil
}

// Register adds the plugin binary to Vault's secret plugin catalog,
// computing the binary checksum when the manifest does not carry one.
func (p *Pipeline) Register(ctx context.Context, spec *PluginSpec) error {
	sha := spec.SHA256
	if sha == "" {
		computed, err := sha256File(spec.Binary)
		if err != nil {
			return err
		}
		sha = computed
	}

	err := p.vault.Sys().RegisterPluginWithContext(ctx, &api.RegisterPluginInput{
		Name:    spec.Name,
		Type:    api.PluginTypeSecrets,
		Command: spec.Command,
		SHA256:  sha,
		Version: spec.Version,
	})
	if err != nil {
		return err
	}
	p.log.Info("registered plugin", "name", spec.Name, "version", spec.Version)
	return nil
}

// EnsureMount mounts the engine unless the path is already mounted.
func (p *Pipeline) EnsureMount(ctx context.Context, spec *MountSpec, plugin *PluginSpec) error {
	mounts, err := p.vault.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return fmt.Errorf("listing mounts: %w", err)
	}
	if _, mounted := mounts[spec.Path+"/"]; mounted {
		p.log.Info("mount already present", "path", spec.Path)
		return nil
	}

	mountType := "gitlab"
	if plugin != nil {
		mountType = plugin.Name
	}
	err = p.vault.Sys().MountWithContext(ctx, spec.Path, &api.MountInput{
		Type:        mountType,
		Description: spec.Description,
	})
	if err != nil {
		return err
	}
	p.log.Info("mounted engine", "path", spec.Path, "type", mountType)
	return nil
}

// Tune switches the mounted plugin version in place.
func (p *Pipeline) Tune(ctx context.Context, mountPath string, spec *TuneSpec) error {
	err := p.vault.Sys().TuneMountWithContext(ctx, mountPath, api.MountConfigInput{
		PluginVersion: spec.PluginVersion,
	})
	if err != nil {
		return err
	}
	p.log.Info("tuned mount", "path", mountPath, "plugin_version", spec.PluginVersion)
	return nil
}

// Reload makes the server reload the plugin's running code.
func (p *Pipeline) Reload(ctx context.Context, spec *ReloadSpec) error {
	reloadID, err := p.vault.Sys().ReloadPluginWithContext(ctx, &api.ReloadPluginInput{
		Plugin: spec.Plugin,
		Mounts: spec.Mounts,
		Scope:  spec.Scope,
	})
	if err != nil {
		return err
	}
	p.log.Info("reloaded plugin", "plugin", spec.Plugin, "mounts", strings.Join(spec.Mounts, ","), "scope", spec.Scope, "reload_id", reloadID)
	return nil
}

// Configure writes the engine configuration at <mount>/config.
func (p *Pipeline) Configure(ctx context.Context, mountPath string, spec *ConfigSpec) error {
	token, err := spec.resolveToken()
	if err != nil {
		return err
	}

	data := map[string]any{
		"token":                     token,
		"auto_rotate_token":         spec.AutoRotateToken,
		"revoke_auto_rotated_token": spec.RevokeAutoRotatedToken,
	}
	if spec.BaseURL != "" {
		data["base_url"] = spec.BaseURL
	}
	if spec.MaxTTL != "" {
		ttl, err := time.ParseDuration(spec.MaxTTL)
		if err != nil {
			return fmt.Errorf("invalid max_ttl: %w", err)
		}
		data["max_ttl"] = int64(ttl.Seconds())
	}

	if _, err := p.vault.Logical().WriteWithContext(ctx, mountPath+"/config", data); err != nil {
		return err
	}
	p.log.Info("configured engine", "mount", mountPath, "base_url", spec.BaseURL)
	return nil
}

// Rotate triggers a rotation of the engine's active token.
func (p *Pipeline) Rotate(ctx context.Context, mountPath string) error {
	secret, err := p.vault.Logical().WriteWithContext(ctx, mountPath+"/config/rotate", nil)
	if err != nil {
		return err
	}
	if secret != nil && secret.Data != nil {
		p.log.Info("rotated token",
			"mount", mountPath,
			"rotation_id", secret.Data["rotation_id"],
			"token_fingerprint", secret.Data["token_fingerprint"])
	} else {
		p.log.Info("rotated token", "mount", mountPath)
	}
	return nil
}

// WriteRole writes one issuance role at <mount>/roles/<name>.
func (p *Pipeline) WriteRole(ctx context.Context, mountPath, name string, role RoleSpec) error {
	data := map[string]any{
		"token_type": role.TokenType,
		"path":       role.Path,
		"scopes":     strings.Join(role.Scopes, ","),
	}
	if role.Name != "" {
		data["name"] = role.Name
	}
	if role.AccessLevel != "" {
		data["access_level"] = role.AccessLevel
	}
	if role.TokenTTL != "" {
		ttl, err := time.ParseDuration(role.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl: %w", err)
		}
		data["token_ttl"] = int64(ttl.Seconds())
	}

	if _, err := p.vault.Logical().WriteWithContext(ctx, mountPath+"/roles/"+name, data); err != nil {
		return err
	}
	p.log.Info("wrote role", "mount", mountPath, "role", name, "token_type", role.TokenType)
	return nil
}

// sha256File computes the hex checksum Vault expects at plugin
// registration.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening plugin binary: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing plugin binary: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
