package gitlab

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"
)

func (b *backend) pathsRoles() []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "roles/?$",
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ListOperation: &framework.PathOperation{
					Callback: b.pathRolesList,
				},
			},
			HelpSynopsis:    helpSynopsisListRoles,
			HelpDescription: helpDescriptionListRoles,
		},
		{
			Pattern: "roles/" + framework.GenericNameRegex("role"),
			Fields: map[string]*framework.FieldSchema{
				"role": {
					Type:        framework.TypeLowerCaseString,
					Description: "Name of the role.",
				},
				"name": {
					Type:        framework.TypeString,
					Description: "Display name for issued tokens. Defaults to the role name.",
				},
				"token_type": {
					Type:        framework.TypeString,
					Description: "Kind of token to issue: personal, project, or group.",
				},
				"path": {
					Type:        framework.TypeString,
					Description: "Target of issuance: project path, group path, or username.",
				},
				"access_level": {
					Type:        framework.TypeString,
					Description: "Access level for project and group tokens (guest, reporter, developer, maintainer, owner).",
				},
				"scopes": {
					Type:        framework.TypeCommaStringSlice,
					Description: "Scopes granted to issued tokens.",
				},
				"token_ttl": {
					Type:        framework.TypeDurationSecond,
					Description: "Validity of issued tokens. Bounded by the engine's max_ttl.",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathRolesRead,
				},
				logical.UpdateOperation: &framework.PathOperation{
					Callback: b.pathRolesWrite,
				},
				logical.DeleteOperation: &framework.PathOperation{
					Callback: b.pathRolesDelete,
				},
			},
			HelpSynopsis:    helpSynopsisRoles,
			HelpDescription: helpDescriptionRoles,
		},
	}
}

func (b *backend) pathRolesList(ctx context.Context, req *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	names, err := req.Storage.List(ctx, storageRolePrefix)
	if err != nil {
		return nil, err
	}
	return logical.ListResponse(names), nil
}

func (b *backend) pathRolesRead(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	role, err := getRole(ctx, req.Storage, d.Get("role").(string))
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, nil
	}
	return &logical.Response{
		Data: map[string]any{
			"name":         role.TokenName,
			"token_type":   role.TokenType,
			"path":         role.Path,
			"access_level": role.AccessLevel,
			"scopes":       role.Scopes,
			"token_ttl":    int64(role.TokenTTL.Seconds()),
		},
	}, nil
}

func (b *backend) pathRolesWrite(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	roleName := d.Get("role").(string)

	role, err := getRole(ctx, req.Storage, roleName)
	if err != nil {
		return nil, err
	}
	if role == nil {
		role = &roleEntry{RoleName: roleName}
	}

	if raw, ok := d.GetOk("name"); ok {
		role.TokenName = strings.TrimSpace(raw.(string))
	}
	if raw, ok := d.GetOk("token_type"); ok {
		role.TokenType = strings.ToLower(strings.TrimSpace(raw.(string)))
	}
	if raw, ok := d.GetOk("path"); ok {
		role.Path = strings.Trim(strings.TrimSpace(raw.(string)), "/")
	}
	if raw, ok := d.GetOk("access_level"); ok {
		role.AccessLevel = strings.ToLower(strings.TrimSpace(raw.(string)))
	}
	if raw, ok := d.GetOk("scopes"); ok {
		role.Scopes = raw.([]string)
	}
	if raw, ok := d.GetOk("token_ttl"); ok {
		role.TokenTTL = time.Duration(raw.(int)) * time.Second
	}

	if err := role.validate(); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	// A role's TTL may not exceed the engine's max_ttl once the engine is
	// configured. Unconfigured engines accept any positive TTL; issuance
	// re-checks the bound.
	if cfg, err := getConfig(ctx, req.Storage); err != nil {
		return nil, err
	} else if cfg != nil && role.TokenTTL > cfg.MaxTTL {
		return logical.ErrorResponse("token_ttl %s exceeds the engine max_ttl %s", role.TokenTTL, cfg.MaxTTL), nil
	}

	if err := putRole(ctx, req.Storage, role); err != nil {
		return nil, err
	}
	return nil, nil
}

func (b *backend) pathRolesDelete(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	if err := deleteRole(ctx, req.Storage, d.Get("role").(string)); err != nil {
		return nil, err
	}
	return nil, nil
}
