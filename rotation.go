package gitlab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/hengadev/vault-plugin-secrets-gitlab/internal/gitlabapi"
)

const (
	storageRotationPrefix  = "config/rotations/"
	storageRotationLockKey = "config/rotation-lock"

	// rotationLockTTL bounds how long a crashed holder can wedge
	// rotations. A lock older than this is treated as abandoned.
	rotationLockTTL = 5 * time.Minute

	rotationTriggerManual = "manual"
	rotationTriggerAuto   = "auto"
)

// rotationLock is the in-storage guard shared by every backend instance
// mounted on the same storage. Combined with rotateMu it gives
// at-most-one rotation in flight across Vault nodes, not just within one
// process.
type rotationLock struct {
	ID         string    `json:"id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func acquireRotationLock(ctx context.Context, s logical.Storage) (string, error) {
	entry, err := s.Get(ctx, storageRotationLockKey)
	if err != nil {
		return "", fmt.Errorf("reading rotation lock: %w", err)
	}
	if entry != nil {
		var held rotationLock
		if err := entry.DecodeJSON(&held); err == nil && time.Since(held.AcquiredAt) < rotationLockTTL {
			return "", ErrRotationInProgress
		}
	}

	lock := rotationLock{ID: uuid.NewString(), AcquiredAt: time.Now()}
	lockEntry, err := logical.StorageEntryJSON(storageRotationLockKey, lock)
	if err != nil {
		return "", fmt.Errorf("encoding rotation lock: %w", err)
	}
	if err := s.Put(ctx, lockEntry); err != nil {
		return "", fmt.Errorf("persisting rotation lock: %w", err)
	}
	return lock.ID, nil
}

// verifyRotationLock confirms the lock is still ours. Two instances can
// race past acquireRotationLock; the storage write is last-one-wins, so
// re-checking ownership right before the config swap leaves exactly one
// of them standing.
func verifyRotationLock(ctx context.Context, s logical.Storage, id string) error {
	entry, err := s.Get(ctx, storageRotationLockKey)
	if err != nil {
		return fmt.Errorf("verifying rotation lock: %w", err)
	}
	if entry == nil {
		return ErrRotationInProgress
	}
	var held rotationLock
	if err := entry.DecodeJSON(&held); err != nil {
		return fmt.Errorf("decoding rotation lock: %w", err)
	}
	if held.ID != id {
		return ErrRotationInProgress
	}
	return nil
}

func releaseRotationLock(ctx context.Context, s logical.Storage, id string) error {
	entry, err := s.Get(ctx, storageRotationLockKey)
	if err != nil || entry == nil {
		return err
	}
	var held rotationLock
	if err := entry.DecodeJSON(&held); err != nil || held.ID != id {
		return nil
	}
	return s.Delete(ctx, storageRotationLockKey)
}

// rotationRecord is the audit entry kept per rotation. Fingerprints are
// SHA-256 prefixes; token material is never written here.
type rotationRecord struct {
	ID             string    `json:"id"`
	Trigger        string    `json:"trigger"`
	RotatedAt      time.Time `json:"rotated_at"`
	OldTokenID     int       `json:"old_token_id"`
	OldFingerprint string    `json:"old_fingerprint"`
	NewTokenID     int       `json:"new_token_id"`
	NewFingerprint string    `json:"new_fingerprint"`
	NewExpiresAt   time.Time `json:"new_expires_at"`
	Revoked        bool      `json:"revoked"`
}

// rotateToken replaces the active token with a freshly issued one.
//
// Sequence: issue a replacement personal token for the owner of the
// current one, persist the new configuration (the swap point), then revoke
// the superseded token when revoke_auto_rotated_token is set. The old
// token is never revoked before the new configuration is durably stored.
// Only one rotation may be in flight; concurrent callers get
// ErrRotationInProgress, whether they share this backend instance
// (rotateMu) or only its storage (the rotation lock entry).
func (b *backend) rotateToken(ctx context.Context, s logical.Storage, trigger string) (*rotationRecord, error) {
	if !b.rotateMu.TryLock() {
		return nil, ErrRotationInProgress
	}
	defer b.rotateMu.Unlock()

	lockID, err := acquireRotationLock(ctx, s)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := releaseRotationLock(ctx, s, lockID); err != nil {
			b.Logger().Warn("failed to release rotation lock", "error", err)
		}
	}()

	client, cfg, err := b.getClient(ctx, s)
	if err != nil {
		return nil, err
	}

	self, err := client.CurrentToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspecting active token: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(cfg.MaxTTL)
	newTok, err := client.CreatePersonalToken(ctx, self.UserID, gitlabapi.TokenRequest{
		Name:      fmt.Sprintf("vault-rotated-%s", uuid.NewString()[:8]),
		Scopes:    self.Scopes,
		ExpiresAt: gitlabapi.ExpiryDate(expiresAt),
	})
	if err != nil {
		return nil, fmt.Errorf("issuing replacement token: %w", err)
	}
	if newTok.Token == "" {
		return nil, fmt.Errorf("issuing replacement token: GitLab returned no token material")
	}

	record := &rotationRecord{
		ID:             uuid.NewString(),
		Trigger:        trigger,
		RotatedAt:      now,
		OldTokenID:     cfg.TokenID,
		OldFingerprint: cfg.fingerprint(),
		NewTokenID:     newTok.ID,
		NewFingerprint: tokenFingerprint(newTok.Token),
		NewExpiresAt:   expiresAt,
	}

	oldTokenID := cfg.TokenID
	cfg.Token = newTok.Token
	cfg.TokenID = newTok.ID
	cfg.TokenUserID = self.UserID
	cfg.TokenExpiresAt = expiresAt
	cfg.TokenScopes = self.Scopes
	cfg.RotationCount++
	cfg.LastRotatedAt = now

	// Re-check the lock right before the swap. If another instance stole
	// it while GitLab was issuing the replacement, back off and revoke the
	// token we just minted so it does not leak.
	if err := verifyRotationLock(ctx, s, lockID); err != nil {
		if revokeErr := client.RevokePersonalToken(ctx, newTok.ID); revokeErr != nil {
			b.Logger().Warn("failed to revoke replacement token after losing rotation lock",
				"token_id", newTok.ID, "error", revokeErr)
		}
		return nil, err
	}

	// The swap: after this write the new token is the active credential.
	if err := putConfig(ctx, s, cfg); err != nil {
		return nil, fmt.Errorf("storing rotated configuration: %w", err)
	}
	b.resetClient()

	if cfg.RevokeAutoRotatedToken && oldTokenID != 0 {
		rotatedClient, err := gitlabapi.New(cfg.clientConfig())
		if err != nil {
			return nil, err
		}
		err = rotatedClient.RevokePersonalToken(ctx, oldTokenID)
		switch {
		case err == nil:
			record.Revoked = true
		case errors.Is(err, gitlabapi.ErrNotFound):
			// Already gone upstream; nothing left to revoke.
			record.Revoked = true
		default:
			// The swap already happened, so the rotation stands. Surface
			// the leak instead of failing it.
			b.Logger().Warn("failed to revoke superseded token",
				"token_id", oldTokenID, "error", err)
		}
	}

	if err := putRotationRecord(ctx, s, record); err != nil {
		return nil, err
	}
	return record, nil
}

func putRotationRecord(ctx context.Context, s logical.Storage, record *rotationRecord) error {
	entry, err := logical.StorageEntryJSON(storageRotationPrefix+record.ID, record)
	if err != nil {
		return fmt.Errorf("encoding rotation record: %w", err)
	}
	if err := s.Put(ctx, entry); err != nil {
		return fmt.Errorf("persisting rotation record: %w", err)
	}
	return nil
}

func getRotationRecord(ctx context.Context, s logical.Storage, id string) (*rotationRecord, error) {
	entry, err := s.Get(ctx, storageRotationPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("reading rotation record: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	var record rotationRecord
	if err := entry.DecodeJSON(&record); err != nil {
		return nil, fmt.Errorf("decoding rotation record: %w", err)
	}
	return &record, nil
}
