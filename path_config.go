package gitlab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/hengadev/vault-plugin-secrets-gitlab/internal/gitlabapi"
)

func (b *backend) pathConfig() *framework.Path {
	return &framework.Path{
		Pattern: "config$",
		Fields: map[string]*framework.FieldSchema{
			"base_url": {
				Type:        framework.TypeString,
				Description: "GitLab instance URL. Defaults to " + DefaultBaseURL + ".",
				Default:     DefaultBaseURL,
			},
			"token": {
				Type:        framework.TypeString,
				Description: "Personal access token the engine authenticates with. Write-only.",
				DisplayAttrs: &framework.DisplayAttributes{
					Sensitive: true,
				},
			},
			"max_ttl": {
				Type:        framework.TypeDurationSecond,
				Description: "Upper bound on the active token's validity and on role token TTLs.",
			},
			"auto_rotate_token": {
				Type:        framework.TypeBool,
				Description: "Rotate the active token automatically before it expires.",
				Default:     false,
			},
			"revoke_auto_rotated_token": {
				Type:        framework.TypeBool,
				Description: "Revoke the superseded token after a successful rotation.",
				Default:     false,
			},
		},
		Operations: map[logical.Operation]framework.OperationHandler{
			logical.ReadOperation: &framework.PathOperation{
				Callback: b.pathConfigRead,
			},
			logical.UpdateOperation: &framework.PathOperation{
				Callback: b.pathConfigWrite,
			},
			logical.DeleteOperation: &framework.PathOperation{
				Callback: b.pathConfigDelete,
			},
		},
		HelpSynopsis:    helpSynopsisConfig,
		HelpDescription: helpDescriptionConfig,
	}
}

func (b *backend) pathConfigRead(ctx context.Context, req *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	cfg, err := getConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}

	data := map[string]any{
		"base_url":                  cfg.BaseURL,
		"max_ttl":                   int64(cfg.MaxTTL.Seconds()),
		"auto_rotate_token":         cfg.AutoRotateToken,
		"revoke_auto_rotated_token": cfg.RevokeAutoRotatedToken,
		"token_fingerprint":         cfg.fingerprint(),
		"token_id":                  cfg.TokenID,
		"token_scopes":              cfg.TokenScopes,
		"rotation_count":            cfg.RotationCount,
	}
	if !cfg.TokenExpiresAt.IsZero() {
		data["token_expires_at"] = cfg.TokenExpiresAt.UTC().Format(time.RFC3339)
	}
	if !cfg.LastRotatedAt.IsZero() {
		data["last_rotated_at"] = cfg.LastRotatedAt.UTC().Format(time.RFC3339)
	}
	return &logical.Response{Data: data}, nil
}

func (b *backend) pathConfigWrite(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	cfg, err := getConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &engineConfig{}
	}

	if raw, ok := d.GetOk("base_url"); ok {
		cfg.BaseURL = strings.TrimSpace(raw.(string))
	}
	if raw, ok := d.GetOk("token"); ok {
		cfg.Token = raw.(string)
	}
	if raw, ok := d.GetOk("max_ttl"); ok {
		cfg.MaxTTL = time.Duration(raw.(int)) * time.Second
	}
	if raw, ok := d.GetOk("auto_rotate_token"); ok {
		cfg.AutoRotateToken = raw.(bool)
	}
	if raw, ok := d.GetOk("revoke_auto_rotated_token"); ok {
		cfg.RevokeAutoRotatedToken = raw.(bool)
	}

	if err := cfg.validate(); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	// Verify the token against GitLab before accepting it, and capture its
	// identity so rotation and expiry tracking have something to work from.
	client, err := gitlabapi.New(cfg.clientConfig())
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	self, err := client.CurrentToken(ctx)
	if err != nil {
		if errors.Is(err, gitlabapi.ErrAccessDenied) {
			return logical.ErrorResponse("token was rejected by GitLab: %s", err), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrGitLabUnavailable, err)
	}
	if !self.Active || self.Revoked {
		return logical.ErrorResponse("token is not active"), nil
	}

	cfg.TokenID = self.ID
	cfg.TokenUserID = self.UserID
	cfg.TokenScopes = self.Scopes
	cfg.TokenExpiresAt = time.Time{}
	if self.ExpiresAt != "" {
		expiry, err := time.Parse("2006-01-02", self.ExpiresAt)
		if err == nil {
			// GitLab expires tokens at the end of the named day.
			cfg.TokenExpiresAt = expiry.AddDate(0, 0, 1)
		}
	}

	if err := putConfig(ctx, req.Storage, cfg); err != nil {
		return nil, err
	}
	b.resetClient()
	return nil, nil
}

func (b *backend) pathConfigDelete(ctx context.Context, req *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	if err := req.Storage.Delete(ctx, storageConfigKey); err != nil {
		return nil, fmt.Errorf("deleting configuration: %w", err)
	}
	b.resetClient()
	return nil, nil
}
