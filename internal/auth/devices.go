package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

const (
	collectionDevices        = "devices"
	collectionRefreshTokens  = "refreshTokens"
	collectionConsumedTokens = "consumedRefreshTokens"
)

var (
	// ErrDeviceIDRequired is returned for a blank device id.
	ErrDeviceIDRequired = errors.New("device id required")
	// ErrUnknownRole is returned when registering with an unsupported role.
	ErrUnknownRole = errors.New("unknown role")
)

// Registry registers scanner devices and rotates their refresh tokens.
type Registry struct {
	docs   store.Documents
	signer *Signer
}

// NewRegistry creates a registry.
func NewRegistry(docs store.Documents, signer *Signer) *Registry {
	return &Registry{docs: docs, signer: signer}
}

// Register records the device if new and issues a token pair for it with
// role. An empty role means RoleDevice.
func (r *Registry) Register(ctx context.Context, deviceID, name, role string) (TokenPair, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return TokenPair{}, ErrDeviceIDRequired
	}
	switch role {
	case "":
		role = RoleDevice
	case RoleDevice, RoleOperator:
	default:
		return TokenPair{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.docs.Insert(ctx, collectionDevices, store.Document{
		"id": deviceID, "name": name, "role": role, "createdAt": now, "lastSeenAt": now,
	})
	if errors.Is(err, store.ErrConflict) {
		err = r.docs.Update(ctx, collectionDevices, deviceID, store.Document{"lastSeenAt": now})
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("upsert device: %w", err)
	}
	return r.issue(ctx, deviceID, role)
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted once.
func (r *Registry) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := r.signer.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	id := tokenKey(refreshToken)
	doc, err := r.docs.Get(ctx, collectionRefreshTokens, id)
	if errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, ErrInvalidToken
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("load refresh token: %w", err)
	}
	if doc.String("revoked") == "true" {
		return TokenPair{}, ErrInvalidToken
	}
	// The consumed marker is the single-use guard: only one caller can
	// insert it, however many race past the revoked check.
	_, err = r.docs.Insert(ctx, collectionConsumedTokens, store.Document{
		"id": id, "consumedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if errors.Is(err, store.ErrConflict) {
		return TokenPair{}, ErrInvalidToken
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("consume refresh token: %w", err)
	}
	if err := r.docs.Update(ctx, collectionRefreshTokens, id, store.Document{"revoked": true}); err != nil {
		return TokenPair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	return r.issue(ctx, claims.Subject, claims.Role)
}

func (r *Registry) issue(ctx context.Context, subject, role string) (TokenPair, error) {
	pair, err := r.signer.Issue(subject, role)
	if err != nil {
		return TokenPair{}, err
	}
	_, err = r.docs.Insert(ctx, collectionRefreshTokens, store.Document{
		"id":        tokenKey(pair.RefreshToken),
		"deviceId":  subject,
		"expiresAt": pair.RefreshExp.UTC().Format(time.RFC3339Nano),
		"revoked":   false,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}

// tokenKey stores tokens by digest so the raw value never hits the database.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
