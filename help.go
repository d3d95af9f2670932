package gitlab

const (
	helpBackend = `
The GitLab secrets engine issues GitLab access tokens on demand.

The engine holds a single long-lived GitLab token, configured at 'config'
and optionally auto-rotated before it expires. Roles under 'roles/' define
what kind of token can be issued (personal, project, or group), against
which path, with which scopes and access level, and for how long. Reading
'token/<role>' issues a short-lived token as a leased secret; Vault
revokes the token in GitLab when the lease ends.
`

	helpSynopsisConfig = `
Configure the engine's GitLab connection and rotation policy.
`

	helpDescriptionConfig = `
Writing this endpoint stores the GitLab base URL, the bootstrap token, the
maximum token validity, and the auto-rotation flags. The token is verified
against GitLab before it is accepted, and is never returned by reads:
reading this endpoint returns connection metadata, the token's SHA-256
fingerprint, its expiry, and rotation counters.
`

	helpSynopsisConfigRotate = `
Rotate the engine's active GitLab token.
`

	helpDescriptionConfigRotate = `
Rotation issues a replacement token for the owner of the active one,
swaps it into the stored configuration, and, when
revoke_auto_rotated_token is set, revokes the superseded token. At most
one rotation runs at a time; concurrent requests fail instead of queuing.
Each rotation writes an audit record readable under 'config/rotations/'.
`

	helpSynopsisRotations = `
Inspect past token rotations.
`

	helpDescriptionRotations = `
Rotation records carry the rotation trigger (manual or auto), timestamps,
token IDs, and SHA-256 fingerprints of the old and new tokens. They never
contain token material.
`

	helpSynopsisRoles = `
Read, write, and delete token issuance roles.
`

	helpDescriptionRoles = `
A role defines one way of issuing GitLab tokens: its token_type selects a
personal, project, or group access token; path names the username,
project, or group the token is issued against; scopes and access_level
bound what the token may do; token_ttl bounds how long it lives. A role's
token_ttl may not exceed the engine's configured max_ttl.
`

	helpSynopsisListRoles = `
List the names of all defined roles.
`

	helpDescriptionListRoles = `
List the names of all defined roles. The listing carries no role detail.
`

	helpSynopsisToken = `
Issue a GitLab token for a role.
`

	helpDescriptionToken = `
Reading this endpoint creates a new GitLab token according to the named
role and returns it as a leased secret. The token's expiry in GitLab
covers the lease; when the lease expires or is revoked, the engine
deletes the token in GitLab.
`
)
