package gitlab

import (
	"context"
	"testing"

	"github.com/hashicorp/vault/sdk/logical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWriteAndRead(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)

	configureBackend(t, b, s, g, map[string]any{
		"auto_rotate_token":         true,
		"revoke_auto_rotated_token": true,
	})

	resp, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.ReadOperation,
		Path:      "config",
		Storage:   s,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, g.URL(), resp.Data["base_url"])
	assert.Equal(t, int64(720*3600), resp.Data["max_ttl"])
	assert.Equal(t, true, resp.Data["auto_rotate_token"])
	assert.Equal(t, true, resp.Data["revoke_auto_rotated_token"])
	assert.Equal(t, 1, resp.Data["token_id"])
	assert.Equal(t, tokenFingerprint("glpat-bootstrap"), resp.Data["token_fingerprint"])
	assert.NotEmpty(t, resp.Data["token_expires_at"])

	// The token itself must never come back.
	for key, value := range resp.Data {
		if str, ok := value.(string); ok {
			assert.NotEqual(t, "glpat-bootstrap", str, "token leaked via %s", key)
		}
	}
}

func TestConfigWriteRejectsBadToken(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)

	resp, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.UpdateOperation,
		Path:      "config",
		Storage:   s,
		Data: map[string]any{
			"base_url": g.URL(),
			"token":    "glpat-nonexistent",
		},
	})
	require.NoError(t, err)
	require.True(t, resp.IsError())

	// Nothing was stored.
	cfg, err := getConfig(context.Background(), s)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{
			name: "missing token",
			data: map[string]any{"base_url": "https://gitlab.example.com"},
		},
		{
			name: "max_ttl below a day",
			data: map[string]any{"token": "glpat-x", "max_ttl": "1h"},
		},
		{
			name: "max_ttl above a year",
			data: map[string]any{"token": "glpat-x", "max_ttl": "20000h"},
		},
		{
			name: "bad base_url scheme",
			data: map[string]any{"token": "glpat-x", "base_url": "ftp://gitlab.example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, s := newTestBackend(t)
			resp, err := b.HandleRequest(context.Background(), &logical.Request{
				Operation: logical.UpdateOperation,
				Path:      "config",
				Storage:   s,
				Data:      tt.data,
			})
			require.NoError(t, err)
			require.True(t, resp.IsError(), "expected validation failure")
		})
	}
}

func TestConfigUpdateKeepsToken(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)

	// Update only the rotation policy; the stored token must survive.
	resp, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.UpdateOperation,
		Path:      "config",
		Storage:   s,
		Data:      map[string]any{"auto_rotate_token": true},
	})
	require.NoError(t, err)
	require.False(t, resp.IsError())

	cfg, err := getConfig(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "glpat-bootstrap", cfg.Token)
	assert.True(t, cfg.AutoRotateToken)
}

func TestConfigDelete(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)

	_, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.DeleteOperation,
		Path:      "config",
		Storage:   s,
	})
	require.NoError(t, err)

	resp, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.ReadOperation,
		Path:      "config",
		Storage:   s,
	})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestEngineConfigDefaults(t *testing.T) {
	cfg := &engineConfig{Token: "glpat-x"}
	require.NoError(t, cfg.validate())
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultMaxTTL, cfg.MaxTTL)
}

func TestTokenFingerprint(t *testing.T) {
	assert.Empty(t, tokenFingerprint(""))
	fp := tokenFingerprint("glpat-abc")
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, tokenFingerprint("glpat-abc"))
	assert.NotEqual(t, fp, tokenFingerprint("glpat-abd"))
}
