package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/vault/sdk/logical"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*backend, logical.Storage) {
	t.Helper()
	conf := logical.TestBackendConfig()
	conf.StorageView = &logical.InmemStorage{}
	b, err := Factory(context.Background(), conf)
	require.NoError(t, err)
	return b.(*backend), conf.StorageView
}

// fakeToken is a token record inside the fake GitLab instance.
type fakeToken struct {
	ID        int
	UserID    int
	Name      string
	Scopes    []string
	ExpiresAt string
	Revoked   bool
}

// fakeGitLab is an in-memory GitLab API double covering the endpoints the
// engine uses.
type fakeGitLab struct {
	t   *testing.T
	srv *httptest.Server

	// createDelay stalls token creation responses. Set it before issuing
	// concurrent requests; it is read without the lock.
	createDelay time.Duration

	mu              sync.Mutex
	nextID          int
	tokens          map[string]*fakeToken // token material -> record
	users           map[string]int        // username -> user ID
	createdProject  []string              // project paths tokens were created for
	createdGroup    []string
	createdPersonal []int // user IDs
	revokedIDs      []int
}

func newFakeGitLab(t *testing.T) *fakeGitLab {
	t.Helper()
	g := &fakeGitLab{
		t:      t,
		nextID: 100,
		tokens: map[string]*fakeToken{},
		users:  map[string]int{"deployer": 12},
	}
	g.addToken("glpat-bootstrap", &fakeToken{
		ID:        1,
		UserID:    12,
		Name:      "bootstrap",
		Scopes:    []string{"api"},
		ExpiresAt: time.Now().AddDate(0, 6, 0).Format("2006-01-02"),
	})
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGitLab) URL() string { return g.srv.URL }

func (g *fakeGitLab) addToken(material string, tok *fakeToken) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens[material] = tok
}

func (g *fakeGitLab) tokenByID(id int) *fakeToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tok := range g.tokens {
		if tok.ID == id {
			return tok
		}
	}
	return nil
}

var (
	userTokensRe    = regexp.MustCompile(`^/api/v4/users/(\d+)/personal_access_tokens$`)
	patRe           = regexp.MustCompile(`^/api/v4/personal_access_tokens/(\d+)$`)
	projectTokensRe = regexp.MustCompile(`^/api/v4/projects/([^/]+)/access_tokens$`)
	projectTokenRe  = regexp.MustCompile(`^/api/v4/projects/([^/]+)/access_tokens/(\d+)$`)
	groupTokensRe   = regexp.MustCompile(`^/api/v4/groups/([^/]+)/access_tokens$`)
	groupTokenRe    = regexp.MustCompile(`^/api/v4/groups/([^/]+)/access_tokens/(\d+)$`)
)

func (g *fakeGitLab) handle(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	auth := g.tokens[r.Header.Get("PRIVATE-TOKEN")]
	g.mu.Unlock()
	if auth == nil || auth.Revoked {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401 Unauthorized"})
		return
	}

	p := r.URL.EscapedPath()
	switch {
	case r.Method == http.MethodGet && p == "/api/v4/personal_access_tokens/self":
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         auth.ID,
			"user_id":    auth.UserID,
			"name":       auth.Name,
			"scopes":     auth.Scopes,
			"active":     true,
			"revoked":    false,
			"expires_at": auth.ExpiresAt,
		})

	case r.Method == http.MethodGet && p == "/api/v4/users":
		username := r.URL.Query().Get("username")
		g.mu.Lock()
		id, ok := g.users[username]
		g.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": id, "username": username}})

	case r.Method == http.MethodPost && userTokensRe.MatchString(p):
		userID, _ := strconv.Atoi(userTokensRe.FindStringSubmatch(p)[1])
		g.createToken(w, r, func(tok *fakeToken) {
			tok.UserID = userID
			g.createdPersonal = append(g.createdPersonal, userID)
		})

	case r.Method == http.MethodDelete && patRe.MatchString(p):
		id, _ := strconv.Atoi(patRe.FindStringSubmatch(p)[1])
		g.revoke(w, id)

	case r.Method == http.MethodPost && projectTokensRe.MatchString(p):
		project := projectTokensRe.FindStringSubmatch(p)[1]
		g.createToken(w, r, func(*fakeToken) {
			g.createdProject = append(g.createdProject, project)
		})

	case r.Method == http.MethodDelete && projectTokenRe.MatchString(p):
		id, _ := strconv.Atoi(projectTokenRe.FindStringSubmatch(p)[2])
		g.revoke(w, id)

	case r.Method == http.MethodPost && groupTokensRe.MatchString(p):
		group := groupTokensRe.FindStringSubmatch(p)[1]
		g.createToken(w, r, func(*fakeToken) {
			g.createdGroup = append(g.createdGroup, group)
		})

	case r.Method == http.MethodDelete && groupTokenRe.MatchString(p):
		id, _ := strconv.Atoi(groupTokenRe.FindStringSubmatch(p)[2])
		g.revoke(w, id)

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "404 Not Found"})
	}
}

func (g *fakeGitLab) activeTokenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, tok := range g.tokens {
		if !tok.Revoked {
			n++
		}
	}
	return n
}

func (g *fakeGitLab) createToken(w http.ResponseWriter, r *http.Request, customize func(*fakeToken)) {
	if g.createDelay > 0 {
		time.Sleep(g.createDelay)
	}
	var req struct {
		Name        string   `json:"name"`
		Scopes      []string `json:"scopes"`
		AccessLevel int      `json:"access_level"`
		ExpiresAt   string   `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad request"})
		return
	}

	g.mu.Lock()
	g.nextID++
	tok := &fakeToken{
		ID:        g.nextID,
		Name:      req.Name,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
	}
	material := fmt.Sprintf("glpat-fake-%d", tok.ID)
	g.tokens[material] = tok
	customize(tok)
	g.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           tok.ID,
		"user_id":      tok.UserID,
		"name":         tok.Name,
		"scopes":       tok.Scopes,
		"access_level": req.AccessLevel,
		"expires_at":   tok.ExpiresAt,
		"token":        material,
	})
}

func (g *fakeGitLab) revoke(w http.ResponseWriter, id int) {
	tok := g.tokenByID(id)
	if tok == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "404 Not Found"})
		return
	}
	g.mu.Lock()
	tok.Revoked = true
	g.revokedIDs = append(g.revokedIDs, id)
	g.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// configureBackend writes a standard engine configuration pointing at the
// fake GitLab instance.
func configureBackend(t *testing.T, b *backend, s logical.Storage, g *fakeGitLab, extra map[string]any) {
	t.Helper()
	data := map[string]any{
		"base_url": g.URL(),
		"token":    "glpat-bootstrap",
		"max_ttl":  "720h",
	}
	for k, v := range extra {
		data[k] = v
	}
	resp, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.UpdateOperation,
		Path:      "config",
		Storage:   s,
		Data:      data,
	})
	require.NoError(t, err)
	require.False(t, resp.IsError(), "configure failed: %v", resp)
}

// writeRole stores a role through the API.
func writeRole(t *testing.T, b *backend, s logical.Storage, name string, data map[string]any) {
	t.Helper()
	resp, err := b.HandleRequest(context.Background(), &logical.Request{
		Operation: logical.UpdateOperation,
		Path:      "roles/" + name,
		Storage:   s,
		Data:      data,
	})
	require.NoError(t, err)
	require.False(t, resp.IsError(), "role write failed: %v", resp)
}

func TestBackendHasExpectedPaths(t *testing.T) {
	b, _ := newTestBackend(t)

	patterns := make([]string, 0, len(b.Backend.Paths))
	for _, p := range b.Backend.Paths {
		patterns = append(patterns, p.Pattern)
	}
	joined := strings.Join(patterns, "\n")
	for _, want := range []string{"config$", "config/rotate$", "roles/", "token/"} {
		require.Contains(t, joined, want)
	}
}
