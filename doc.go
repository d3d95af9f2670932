// Package gitlab implements a Vault secrets engine that manages GitLab
// access tokens.
//
// The engine is configured with a GitLab base URL and a bootstrap personal
// access token. The bootstrap token can be auto-rotated by the engine so
// that the credential Vault holds is never older than the configured
// max_ttl. Roles describe how per-use tokens are issued: a role names a
// GitLab project, group, or user, the scopes and access level the issued
// token carries, and its time-to-live. Tokens issued through a role are
// leased Vault secrets; when the lease expires the token is revoked in
// GitLab.
//
// Paths:
//
//	config          engine configuration (base URL, bootstrap token, rotation policy)
//	config/rotate   rotate the active token
//	roles/<role>    role definitions
//	token/<role>    issue a token for a role
package gitlab
