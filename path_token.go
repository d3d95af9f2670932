package gitlab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/hengadev/vault-plugin-secrets-gitlab/internal/gitlabapi"
)

func (b *backend) pathToken() *framework.Path {
	return &framework.Path{
		Pattern: "token/" + framework.GenericNameRegex("role"),
		Fields: map[string]*framework.FieldSchema{
			"role": {
				Type:        framework.TypeLowerCaseString,
				Description: "Role to issue a token for.",
			},
		},
		Operations: map[logical.Operation]framework.OperationHandler{
			logical.ReadOperation: &framework.PathOperation{
				Callback: b.pathTokenRead,
			},
		},
		HelpSynopsis:    helpSynopsisToken,
		HelpDescription: helpDescriptionToken,
	}
}

func (b *backend) pathTokenRead(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	roleName := d.Get("role").(string)
	role, err := getRole(ctx, req.Storage, roleName)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return logical.ErrorResponse(NewRoleNotFoundError(roleName).Error()), nil
	}

	client, cfg, err := b.getClient(ctx, req.Storage)
	if err != nil {
		if errors.Is(err, ErrBackendNotConfigured) {
			return logical.ErrorResponse(err.Error()), nil
		}
		return nil, err
	}

	if !cfg.TokenExpiresAt.IsZero() && time.Now().After(cfg.TokenExpiresAt) {
		return logical.ErrorResponse(ErrTokenExpired.Error()), nil
	}

	ttl := role.TokenTTL
	if ttl > cfg.MaxTTL {
		ttl = cfg.MaxTTL
	}

	now := time.Now()
	issue := gitlabapi.TokenRequest{
		Name:      fmt.Sprintf("%s-%s", role.TokenName, uuid.NewString()[:8]),
		Scopes:    role.Scopes,
		ExpiresAt: gitlabapi.ExpiryDate(now.Add(ttl)),
	}

	var (
		token   string
		tokenID int
	)
	switch role.TokenType {
	case TokenTypeProject:
		issue.AccessLevel, err = gitlabapi.ParseAccessLevel(role.AccessLevel)
		if err != nil {
			return nil, err
		}
		tok, err := client.CreateProjectToken(ctx, role.Path, issue)
		if err != nil {
			return nil, fmt.Errorf("issuing project token for role '%s': %w", roleName, err)
		}
		token, tokenID = tok.Token, tok.ID
	case TokenTypeGroup:
		issue.AccessLevel, err = gitlabapi.ParseAccessLevel(role.AccessLevel)
		if err != nil {
			return nil, err
		}
		tok, err := client.CreateGroupToken(ctx, role.Path, issue)
		if err != nil {
			return nil, fmt.Errorf("issuing group token for role '%s': %w", roleName, err)
		}
		token, tokenID = tok.Token, tok.ID
	case TokenTypePersonal:
		user, err := client.LookupUser(ctx, role.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving user for role '%s': %w", roleName, err)
		}
		tok, err := client.CreatePersonalToken(ctx, user.ID, issue)
		if err != nil {
			return nil, fmt.Errorf("issuing personal token for role '%s': %w", roleName, err)
		}
		token, tokenID = tok.Token, tok.ID
	default:
		return nil, NewUnknownTokenTypeError(role.TokenType)
	}

	if token == "" {
		return nil, fmt.Errorf("issuing token for role '%s': GitLab returned no token material", roleName)
	}

	resp := b.Secret(secretTypeAccessToken).Response(
		map[string]any{
			"token":      token,
			"name":       issue.Name,
			"token_type": role.TokenType,
			"scopes":     role.Scopes,
			"expires_at": issue.ExpiresAt,
		},
		map[string]any{
			"token_id":   tokenID,
			"token_type": role.TokenType,
			"path":       role.Path,
			"role":       roleName,
		},
	)
	resp.Secret.TTL = ttl
	resp.Secret.MaxTTL = ttl
	return resp, nil
}
