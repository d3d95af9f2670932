package gitlabapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// PersonalToken is GitLab's personal access token resource. The Token field
// is populated only by create and rotate responses.
type PersonalToken struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	UserID    int      `json:"user_id"`
	Scopes    []string `json:"scopes"`
	Active    bool     `json:"active"`
	Revoked   bool     `json:"revoked"`
	ExpiresAt string   `json:"expires_at"`
	Token     string   `json:"token,omitempty"`
}

// AccessToken is a project or group access token.
type AccessToken struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Scopes      []string `json:"scopes"`
	AccessLevel int      `json:"access_level"`
	ExpiresAt   string   `json:"expires_at"`
	Token       string   `json:"token,omitempty"`
}

// TokenRequest carries the creation parameters common to all token kinds.
// AccessLevel is ignored for personal tokens.
type TokenRequest struct {
	Name        string   `json:"name"`
	Scopes      []string `json:"scopes"`
	AccessLevel int      `json:"access_level,omitempty"`
	ExpiresAt   string   `json:"expires_at"`
}

// User is the subset of GitLab's user resource the engine needs.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Access level values as GitLab defines them.
const (
	AccessLevelGuest      = 10
	AccessLevelReporter   = 20
	AccessLevelDeveloper  = 30
	AccessLevelMaintainer = 40
	AccessLevelOwner      = 50
)

var accessLevels = map[string]int{
	"guest":      AccessLevelGuest,
	"reporter":   AccessLevelReporter,
	"developer":  AccessLevelDeveloper,
	"maintainer": AccessLevelMaintainer,
	"owner":      AccessLevelOwner,
}

// ParseAccessLevel maps a GitLab access level name to its numeric value.
func ParseAccessLevel(name string) (int, error) {
	level, ok := accessLevels[name]
	if !ok {
		return 0, fmt.Errorf("gitlab: unknown access level %q", name)
	}
	return level, nil
}

// ExpiryDate formats t as the date string GitLab's expires_at fields use.
// The date is rounded up a day so the token never expires before t; GitLab
// expires tokens at the end of the named day, in UTC.
func ExpiryDate(t time.Time) string {
	return t.UTC().AddDate(0, 0, 1).Format("2006-01-02")
}

// CurrentToken introspects the token the client authenticates with.
func (c *Client) CurrentToken(ctx context.Context) (*PersonalToken, error) {
	var tok PersonalToken
	if err := c.do(ctx, http.MethodGet, "/personal_access_tokens/self", nil, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// LookupUser resolves a username to a user record.
func (c *Client) LookupUser(ctx context.Context, username string) (*User, error) {
	var users []User
	p := "/users?username=" + url.QueryEscape(username)
	if err := c.do(ctx, http.MethodGet, p, nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	return &users[0], nil
}

// CreatePersonalToken creates a personal access token for the given user.
// The authenticating token must have admin rights.
func (c *Client) CreatePersonalToken(ctx context.Context, userID int, req TokenRequest) (*PersonalToken, error) {
	var tok PersonalToken
	p := fmt.Sprintf("/users/%d/personal_access_tokens", userID)
	if err := c.do(ctx, http.MethodPost, p, req, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// RevokePersonalToken revokes a personal access token by ID.
func (c *Client) RevokePersonalToken(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/personal_access_tokens/%d", id), nil, nil)
}

// CreateProjectToken creates a project access token. projectPath is the
// full, unencoded project path ("group/project").
func (c *Client) CreateProjectToken(ctx context.Context, projectPath string, req TokenRequest) (*AccessToken, error) {
	var tok AccessToken
	p := "/projects/" + url.PathEscape(projectPath) + "/access_tokens"
	if err := c.do(ctx, http.MethodPost, p, req, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// RevokeProjectToken revokes a project access token by ID.
func (c *Client) RevokeProjectToken(ctx context.Context, projectPath string, id int) error {
	p := fmt.Sprintf("/projects/%s/access_tokens/%d", url.PathEscape(projectPath), id)
	return c.do(ctx, http.MethodDelete, p, nil, nil)
}

// CreateGroupToken creates a group access token. groupPath is the full,
// unencoded group path.
func (c *Client) CreateGroupToken(ctx context.Context, groupPath string, req TokenRequest) (*AccessToken, error) {
	var tok AccessToken
	p := "/groups/" + url.PathEscape(groupPath) + "/access_tokens"
	if err := c.do(ctx, http.MethodPost, p, req, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// RevokeGroupToken revokes a group access token by ID.
func (c *Client) RevokeGroupToken(ctx context.Context, groupPath string, id int) error {
	p := fmt.Sprintf("/groups/%s/access_tokens/%d", url.PathEscape(groupPath), id)
	return c.do(ctx, http.MethodDelete, p, nil, nil)
}
