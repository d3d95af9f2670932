package gitlab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/hengadev/vault-plugin-secrets-gitlab/internal/gitlabapi"
)

// Factory builds the GitLab secrets backend for Vault.
func Factory(ctx context.Context, conf *logical.BackendConfig) (logical.Backend, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration passed into backend is nil")
	}
	b := newBackend()
	if err := b.Setup(ctx, conf); err != nil {
		return nil, err
	}
	return b, nil
}

type backend struct {
	*framework.Backend

	// client is cached per active token; clientFingerprint records which
	// token it was built with so config writes and rotations invalidate it.
	clientMu          sync.RWMutex
	client            *gitlabapi.Client
	clientFingerprint string

	// rotateMu gives at-most-one rotation in flight per backend instance.
	rotateMu sync.Mutex
}

func newBackend() *backend {
	b := &backend{}
	b.Backend = &framework.Backend{
		Help:        strings.TrimSpace(helpBackend),
		BackendType: logical.TypeLogical,
		PathsSpecial: &logical.Paths{
			SealWrapStorage: []string{storageConfigKey},
		},
		Paths: framework.PathAppend(
			b.pathsRoles(),
			b.pathsRotations(),
			[]*framework.Path{
				b.pathConfig(),
				b.pathConfigRotate(),
				b.pathToken(),
			},
		),
		Secrets: []*framework.Secret{
			b.secretAccessToken(),
		},
		PeriodicFunc:   b.periodicFunc,
		Invalidate:     b.invalidate,
		RunningVersion: "v" + Version,
	}
	return b
}

// getClient returns a GitLab client for the stored configuration, reusing
// the cached one while the active token is unchanged.
func (b *backend) getClient(ctx context.Context, s logical.Storage) (*gitlabapi.Client, *engineConfig, error) {
	cfg, err := getConfig(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		return nil, nil, ErrBackendNotConfigured
	}

	fp := cfg.fingerprint()
	b.clientMu.RLock()
	if b.client != nil && b.clientFingerprint == fp {
		client := b.client
		b.clientMu.RUnlock()
		return client, cfg, nil
	}
	b.clientMu.RUnlock()

	b.clientMu.Lock()
	defer b.clientMu.Unlock()
	if b.client == nil || b.clientFingerprint != fp {
		client, err := gitlabapi.New(cfg.clientConfig())
		if err != nil {
			return nil, nil, err
		}
		b.client = client
		b.clientFingerprint = fp
	}
	return b.client, cfg, nil
}

func (b *backend) resetClient() {
	b.clientMu.Lock()
	b.client = nil
	b.clientFingerprint = ""
	b.clientMu.Unlock()
}

// invalidate drops the cached client when another Vault node replaces the
// configuration.
func (b *backend) invalidate(_ context.Context, key string) {
	if key == storageConfigKey {
		b.resetClient()
	}
}

// periodicFunc runs roughly once a minute. It auto-rotates the active
// token once it is inside the rotation window: less than a third of
// max_ttl of validity remaining.
func (b *backend) periodicFunc(ctx context.Context, req *logical.Request) error {
	cfg, err := getConfig(ctx, req.Storage)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.AutoRotateToken {
		return nil
	}
	if cfg.TokenExpiresAt.IsZero() {
		return nil
	}
	if time.Until(cfg.TokenExpiresAt) > cfg.MaxTTL/3 {
		return nil
	}

	record, err := b.rotateToken(ctx, req.Storage, rotationTriggerAuto)
	if errors.Is(err, ErrRotationInProgress) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auto-rotating token: %w", err)
	}
	b.Logger().Info("auto-rotated active token",
		"rotation_id", record.ID,
		"new_fingerprint", record.NewFingerprint,
		"revoked_previous", record.Revoked)
	return nil
}
