package gitlab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/sdk/logical"
	"github.com/hengadev/errsx"

	"github.com/hengadev/vault-plugin-secrets-gitlab/internal/gitlabapi"
)

const storageRolePrefix = "roles/"

// Token kinds a role can issue.
const (
	TokenTypePersonal = "personal"
	TokenTypeProject  = "project"
	TokenTypeGroup    = "group"
)

// roleEntry describes how tokens are issued for one role. Path names the
// target: a project path, a group path, or a username, depending on
// TokenType.
type roleEntry struct {
	RoleName    string        `json:"role_name"`
	TokenName   string        `json:"name"`
	TokenType   string        `json:"token_type"`
	Path        string        `json:"path"`
	AccessLevel string        `json:"access_level"`
	Scopes      []string      `json:"scopes"`
	TokenTTL    time.Duration `json:"token_ttl"`
}

// validate checks the role and applies defaults. All problems are
// reported together.
func (r *roleEntry) validate() error {
	var errs errsx.Map

	if r.TokenName == "" {
		r.TokenName = r.RoleName
	}

	switch r.TokenType {
	case TokenTypePersonal:
		if r.AccessLevel != "" {
			errs.Set("access_level", fmt.Errorf("not applicable to personal tokens"))
		}
		if strings.TrimSpace(r.Path) == "" {
			errs.Set("path", fmt.Errorf("username is required for personal tokens"))
		}
	case TokenTypeProject, TokenTypeGroup:
		if r.AccessLevel == "" {
			errs.Set("access_level", fmt.Errorf("required for %s tokens", r.TokenType))
		} else if _, err := gitlabapi.ParseAccessLevel(r.AccessLevel); err != nil {
			errs.Set("access_level", err)
		}
		if strings.TrimSpace(r.Path) == "" {
			errs.Set("path", fmt.Errorf("%s path is required", r.TokenType))
		}
	default:
		errs.Set("token_type", NewUnknownTokenTypeError(r.TokenType))
	}

	if len(r.Scopes) == 0 {
		errs.Set("scopes", fmt.Errorf("at least one scope is required"))
	}
	if r.TokenTTL <= 0 {
		errs.Set("token_ttl", fmt.Errorf("must be positive, got %s", r.TokenTTL))
	}

	if !errs.IsEmpty() {
		return fmt.Errorf("%w: %w", ErrInvalidRole, errs.AsError())
	}
	return nil
}

func getRole(ctx context.Context, s logical.Storage, name string) (*roleEntry, error) {
	entry, err := s.Get(ctx, storageRolePrefix+name)
	if err != nil {
		return nil, fmt.Errorf("reading role '%s': %w", name, err)
	}
	if entry == nil {
		return nil, nil
	}
	var role roleEntry
	if err := entry.DecodeJSON(&role); err != nil {
		return nil, fmt.Errorf("decoding role '%s': %w", name, err)
	}
	return &role, nil
}

func putRole(ctx context.Context, s logical.Storage, role *roleEntry) error {
	entry, err := logical.StorageEntryJSON(storageRolePrefix+role.RoleName, role)
	if err != nil {
		return fmt.Errorf("encoding role '%s': %w", role.RoleName, err)
	}
	if err := s.Put(ctx, entry); err != nil {
		return fmt.Errorf("persisting role '%s': %w", role.RoleName, err)
	}
	return nil
}

func deleteRole(ctx context.Context, s logical.Storage, name string) error {
	if err := s.Delete(ctx, storageRolePrefix+name); err != nil {
		return fmt.Errorf("deleting role '%s': %w", name, err)
	}
	return nil
}
