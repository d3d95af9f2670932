package gitlab

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"
)

func (b *backend) pathConfigRotate() *framework.Path {
	return &framework.Path{
		Pattern: "config/rotate$",
		Operations: map[logical.Operation]framework.OperationHandler{
			logical.UpdateOperation: &framework.PathOperation{
				Callback:                    b.pathConfigRotateWrite,
				ForwardPerformanceStandby:   true,
				ForwardPerformanceSecondary: true,
			},
		},
		HelpSynopsis:    helpSynopsisConfigRotate,
		HelpDescription: helpDescriptionConfigRotate,
	}
}

func (b *backend) pathConfigRotateWrite(ctx context.Context, req *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	record, err := b.rotateToken(ctx, req.Storage, rotationTriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, ErrRotationInProgress):
			return logical.ErrorResponse(err.Error()), nil
		case errors.Is(err, ErrBackendNotConfigured):
			return logical.ErrorResponse(err.Error()), nil
		default:
			return nil, err
		}
	}

	return &logical.Response{
		Data: map[string]any{
			"rotation_id":       record.ID,
			"rotated_at":        record.RotatedAt.UTC().Format(time.RFC3339),
			"token_fingerprint": record.NewFingerprint,
			"token_expires_at":  record.NewExpiresAt.UTC().Format(time.RFC3339),
			"revoked_previous":  record.Revoked,
		},
	}, nil
}

func (b *backend) pathsRotations() []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "config/rotations/?$",
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ListOperation: &framework.PathOperation{
					Callback: b.pathRotationsList,
				},
			},
			HelpSynopsis:    helpSynopsisRotations,
			HelpDescription: helpDescriptionRotations,
		},
		{
			Pattern: "config/rotations/" + framework.GenericNameRegex("id"),
			Fields: map[string]*framework.FieldSchema{
				"id": {
					Type:        framework.TypeString,
					Description: "Rotation record identifier.",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathRotationsRead,
				},
			},
			HelpSynopsis:    helpSynopsisRotations,
			HelpDescription: helpDescriptionRotations,
		},
	}
}

func (b *backend) pathRotationsList(ctx context.Context, req *logical.Request, _ *framework.FieldData) (*logical.Response, error) {
	ids, err := req.Storage.List(ctx, storageRotationPrefix)
	if err != nil {
		return nil, err
	}
	return logical.ListResponse(ids), nil
}

func (b *backend) pathRotationsRead(ctx context.Context, req *logical.Request, d *framework.FieldData) (*logical.Response, error) {
	record, err := getRotationRecord(ctx, req.Storage, d.Get("id").(string))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	return &logical.Response{
		Data: map[string]any{
			"id":              record.ID,
			"trigger":         record.Trigger,
			"rotated_at":      record.RotatedAt.UTC().Format(time.RFC3339),
			"old_token_id":    record.OldTokenID,
			"old_fingerprint": record.OldFingerprint,
			"new_token_id":    record.NewTokenID,
			"new_fingerprint": record.NewFingerprint,
			"new_expires_at":  record.NewExpiresAt.UTC().Format(time.RFC3339),
			"revoked":         record.Revoked,
		},
	}, nil
}
