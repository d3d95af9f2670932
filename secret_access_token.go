package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/hengadev/vault-plugin-secrets-gitlab/internal/gitlabapi"
)

const secretTypeAccessToken = "access_token"

func (b *backend) secretAccessToken() *framework.Secret {
	return &framework.Secret{
		Type: secretTypeAccessToken,
		Fields: map[string]*framework.FieldSchema{
			"token": {
				Type:        framework.TypeString,
				Description: "Issued GitLab access token.",
			},
		},
		Renew:  b.secretAccessTokenRenew,
		Revoke: b.secretAccessTokenRevoke,
	}
}

// secretAccessTokenRenew extends the lease without touching GitLab; the
// token's upstream expiry was fixed at issuance, and the lease's max TTL
// keeps the lease inside it.
func (b *backend) secretAccessTokenRenew(_ context.Context, req *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	return &logical.Response{Secret: req.Secret}, nil
}

// secretAccessTokenRevoke deletes the issued token in GitLab when the
// lease ends. A token GitLab no longer knows about counts as revoked.
func (b *backend) secretAccessTokenRevoke(ctx context.Context, req *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	tokenID, err := internalDataInt(req.Secret.InternalData, "token_id")
	if err != nil {
		return nil, err
	}
	tokenType, err := internalDataString(req.Secret.InternalData, "token_type")
	if err != nil {
		return nil, err
	}
	target, err := internalDataString(req.Secret.InternalData, "path")
	if err != nil {
		return nil, err
	}

	client, _, err := b.getClient(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	switch tokenType {
	case TokenTypeProject:
		err = client.RevokeProjectToken(ctx, target, tokenID)
	case TokenTypeGroup:
		err = client.RevokeGroupToken(ctx, target, tokenID)
	case TokenTypePersonal:
		err = client.RevokePersonalToken(ctx, tokenID)
	default:
		return nil, NewUnknownTokenTypeError(tokenType)
	}
	if err != nil && !errors.Is(err, gitlabapi.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s token %d: %w", ErrTokenRevokeFailed, tokenType, tokenID, err)
	}
	return nil, nil
}

// internalDataInt reads a numeric value out of a secret's internal data,
// which arrives as json.Number or float64 after storage round-trips.
func internalDataInt(data map[string]any, key string) (int, error) {
	raw, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("secret is missing %s internal data", key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("secret %s internal data is not an integer: %w", key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("secret %s internal data has unexpected type %T", key, raw)
	}
}

func internalDataString(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("secret is missing %s internal data", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("secret %s internal data has unexpected type %T", key, raw)
	}
	return s, nil
}
