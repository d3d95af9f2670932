package gitlab

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/vault/sdk/logical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueToken(t *testing.T, b *backend, s logical.Storage, role string) (*logical.Response, error) {
	t.Helper()
	return b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.ReadOperation,
		Path:      "token/" + role,
		Storage:   s,
	})
}

func TestIssueProjectToken(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)
	writeRole(t, b, s, "deploy", map[string]any{
		"token_type":   "project",
		"path":         "group/app",
		"access_level": "maintainer",
		"scopes":       "read_repository",
		"token_ttl":    "2h",
	})

	resp, err := issueToken(t, b, s, "deploy")
	require.NoError(t, err)
	require.False(t, resp.IsError(), "issuance failed: %v", resp)

	token := resp.Data["token"].(string)
	assert.True(t, strings.HasPrefix(token, "glpat-fake-"))
	assert.Equal(t, "project", resp.Data["token_type"])
	assert.True(t, strings.HasPrefix(resp.Data["name"].(string), "deploy-"))

	require.NotNil(t, resp.Secret)
	assert.Equal(t, secretTypeAccessToken, resp.Secret.InternalData["secret_type"])
	assert.Equal(t, 2*time.Hour, resp.Secret.TTL)
	assert.Equal(t, 2*time.Hour, resp.Secret.MaxTTL)

	assert.Equal(t, []string{"group%2Fapp"}, g.createdProject)
}

func TestIssueGroupToken(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)
	writeRole(t, b, s, "team", map[string]any{
		"token_type":   "group",
		"path":         "org/team",
		"access_level": "developer",
		"scopes":       "api",
		"token_ttl":    "1h",
	})

	resp, err := issueToken(t, b, s, "team")
	require.NoError(t, err)
	require.False(t, resp.IsError())
	assert.Equal(t, []string{"org%2Fteam"}, g.createdGroup)
}

func TestIssuePersonalToken(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)
	writeRole(t, b, s, "bot", map[string]any{
		"token_type": "personal",
		"path":       "deployer",
		"scopes":     "api",
		"token_ttl":  "1h",
	})

	resp, err := issueToken(t, b, s, "bot")
	require.NoError(t, err)
	require.False(t, resp.IsError())
	assert.Equal(t, []int{12}, g.createdPersonal)
}

func TestIssueTokenUnknownRole(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)

	resp, err := issueToken(t, b, s, "ghost")
	require.NoError(t, err)
	require.True(t, resp.IsError())
}

func TestIssueTokenUnconfigured(t *testing.T) {
	b, s := newTestBackend(t)
	writeRole(t, b, s, "deploy", map[string]any{
		"token_type":   "project",
		"path":         "group/app",
		"access_level": "developer",
		"scopes":       "api",
		"token_ttl":    "1h",
	})

	resp, err := issueToken(t, b, s, "deploy")
	require.NoError(t, err)
	require.True(t, resp.IsError())
}

func TestIssueTokenRejectsExpiredActiveToken(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)
	writeRole(t, b, s, "deploy", map[string]any{
		"token_type":   "project",
		"path":         "group/app",
		"access_level": "developer",
		"scopes":       "api",
		"token_ttl":    "1h",
	})

	cfg, err := getConfig(context.Background(), s)
	require.NoError(t, err)
	cfg.TokenExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, putConfig(context.Background(), s, cfg))

	resp, err := issueToken(t, b, s, "deploy")
	require.NoError(t, err)
	require.True(t, resp.IsError())
	assert.Contains(t, resp.Error().Error(), ErrTokenExpired.Error())
	assert.Empty(t, g.createdProject, "no token may be issued with an expired active token")
}

func TestLeaseRevocationDeletesToken(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)
	writeRole(t, b, s, "deploy", map[string]any{
		"token_type":   "project",
		"path":         "group/app",
		"access_level": "maintainer",
		"scopes":       "read_repository",
		"token_ttl":    "2h",
	})

	resp, err := issueToken(t, b, s, "deploy")
	require.NoError(t, err)
	require.False(t, resp.IsError())

	_, err = b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.RevokeOperation,
		Path:      "revoke",
		Storage:   s,
		Secret:    resp.Secret,
	})
	require.NoError(t, err)

	require.Len(t, g.revokedIDs, 1)
	issued := g.tokenByID(g.revokedIDs[0])
	require.NotNil(t, issued)
	assert.True(t, issued.Revoked)
}

func TestLeaseRevocationToleratesMissingToken(t *testing.T) {
	b, s := newTestBackend(t)
	g := newFakeGitLab(t)
	configureBackend(t, b, s, g, nil)

	secret := &logical.Secret{
		InternalData: map[string]any{
			"secret_type": secretTypeAccessToken,
			"token_id":    float64(99999),
			"token_type":  TokenTypeProject,
			"path":        "group/app",
			"role":        "deploy",
		},
	}
	_, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.RevokeOperation,
		Path:      "revoke",
		Storage:   s,
		Secret:    secret,
	})
	assert.NoError(t, err, "revoking an already-deleted token must not fail")
}

func TestInternalDataHelpers(t *testing.T) {
	data := map[string]any{
		"as_float":  float64(7),
		"as_int":    9,
		"as_string": "group/app",
	}

	n, err := internalDataInt(data, "as_float")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = internalDataInt(data, "as_int")
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	_, err = internalDataInt(data, "missing")
	assert.Error(t, err)

	s, err := internalDataString(data, "as_string")
	require.NoError(t, err)
	assert.Equal(t, "group/app", s)

	_, err = internalDataString(data, "as_int")
	assert.Error(t, err)
}
