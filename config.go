package gitlab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault/sdk/logical"
	"github.com/hengadev/errsx"

	"github.com/hengadev/vault-plugin-secrets-gitlab/internal/gitlabapi"
)

const (
	storageConfigKey = "config"

	// DefaultBaseURL is used when the operator configures no base_url.
	DefaultBaseURL = "https://gitlab.com"

	// DefaultMaxTTL bounds the active token's validity when max_ttl is not
	// set: one year, GitLab's own ceiling for access token expiry.
	DefaultMaxTTL = 365 * 24 * time.Hour

	// MinMaxTTL is the smallest accepted max_ttl. GitLab expires tokens at
	// day granularity, so anything under a day cannot be honored.
	MinMaxTTL = 24 * time.Hour
)

// engineConfig is the engine's persisted configuration. Token is the
// active credential against the GitLab API; its metadata (ID, owner,
// expiry) is captured when the config is written or rotated.
type engineConfig struct {
	BaseURL                string        `json:"base_url"`
	Token                  string        `json:"token"`
	TokenID                int           `json:"token_id"`
	TokenUserID            int           `json:"token_user_id"`
	TokenExpiresAt         time.Time     `json:"token_expires_at"`
	TokenScopes            []string      `json:"token_scopes"`
	MaxTTL                 time.Duration `json:"max_ttl"`
	AutoRotateToken        bool          `json:"auto_rotate_token"`
	RevokeAutoRotatedToken bool          `json:"revoke_auto_rotated_token"`
	RotationCount          int           `json:"rotation_count"`
	LastRotatedAt          time.Time     `json:"last_rotated_at"`
}

// validate checks the configuration and applies defaults to optional
// fields. All problems are reported together.
func (c *engineConfig) validate() error {
	var errs errsx.Map

	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		errs.Set("base_url", fmt.Errorf("invalid URL: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Set("base_url", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}

	if c.Token == "" {
		errs.Set("token", fmt.Errorf("token is required"))
	}

	if c.MaxTTL == 0 {
		c.MaxTTL = DefaultMaxTTL
	}
	if c.MaxTTL < MinMaxTTL {
		errs.Set("max_ttl", fmt.Errorf("must be at least %s, got %s", MinMaxTTL, c.MaxTTL))
	}
	if c.MaxTTL > DefaultMaxTTL {
		errs.Set("max_ttl", fmt.Errorf("must be at most %s, got %s", DefaultMaxTTL, c.MaxTTL))
	}

	if !errs.IsEmpty() {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errs.AsError())
	}
	return nil
}

// fingerprint identifies the active token without disclosing it.
func (c *engineConfig) fingerprint() string {
	return tokenFingerprint(c.Token)
}

func tokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// getConfig reads the engine configuration from storage. A nil config with
// a nil error means the engine has not been configured.
func getConfig(ctx context.Context, s logical.Storage) (*engineConfig, error) {
	entry, err := s.Get(ctx, storageConfigKey)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	var cfg engineConfig
	if err := entry.DecodeJSON(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return &cfg, nil
}

// putConfig persists the engine configuration.
func putConfig(ctx context.Context, s logical.Storage, cfg *engineConfig) error {
	entry, err := logical.StorageEntryJSON(storageConfigKey, cfg)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	if err := s.Put(ctx, entry); err != nil {
		return fmt.Errorf("persisting configuration: %w", err)
	}
	return nil
}

// clientConfig derives the GitLab client settings from the engine config.
func (c *engineConfig) clientConfig() gitlabapi.Config {
	return gitlabapi.Config{
		BaseURL:           c.BaseURL,
		Token:             c.Token,
		RequestsPerSecond: 10,
	}
}
