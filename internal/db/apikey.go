package db

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IssuedKey pairs the persisted key record with the plaintext secret.
// This is the only type in the repository that carries the plaintext:
// it is returned once from IssueAPIKey and nowhere else.
type IssuedKey struct {
	APIKey
	Plaintext string `json:"api_key"`
}

// hashAPIKey is the one-way digest stored in place of the secret:
// hex-encoded SHA-256.
func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func generateAPIKeySecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IssueAPIKey mints a new credential for clientID. The plaintext secret
// (256 bits, hex) is generated here, digested, and returned exactly once
// on the IssuedKey; only the digest is persisted.
func (s *Store) IssueAPIKey(ctx context.Context, clientID, description string) (*IssuedKey, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: empty client id", ErrValidation)
	}

	secret, err := generateAPIKeySecret()
	if err != nil {
		return nil, err
	}

	key := APIKey{
		ID:          uuid.NewString(),
		KeyHash:     hashAPIKey(secret),
		ClientID:    clientID,
		Description: description,
		IsActive:    true,
	}
	if err := s.gdb.WithContext(ctx).Create(&key).Error; err != nil {
		return nil, err
	}

	return &IssuedKey{APIKey: key, Plaintext: secret}, nil
}

// ListAPIKeys returns metadata for every issued key, newest first.
// Neither plaintexts nor digests are exposed (KeyHash is json:"-").
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	err := s.gdb.WithContext(ctx).Order("created_at DESC").Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// RevokeAPIKey deactivates a key. Revocation is one-way and idempotent:
// revoking an already-revoked key succeeds. Unknown ids return
// ErrAPIKeyNotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res := s.gdb.WithContext(ctx).Model(&APIKey{}).
		Where("id = ?", id).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %q", ErrAPIKeyNotFound, id)
	}
	return nil
}

// VerifyAPIKey checks a presented secret against the stored digests. On
// success it bumps last_used_at and returns the key's metadata; otherwise
// ErrUnauthorized. The digest comparison is constant-time so response
// timing carries no information about partial matches.
func (s *Store) VerifyAPIKey(ctx context.Context, plaintext string) (*APIKey, error) {
	if plaintext == "" {
		return nil, ErrUnauthorized
	}
	digest := hashAPIKey(plaintext)

	var key APIKey
	err := s.gdb.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", digest, true).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(digest), []byte(key.KeyHash)) != 1 {
		return nil, ErrUnauthorized
	}

	// Best-effort: a failure to record usage does not fail verification.
	now := time.Now().UTC()
	if err := s.gdb.WithContext(ctx).Model(&APIKey{}).
		Where("id = ?", key.ID).
		Update("last_used_at", now).Error; err == nil {
		key.LastUsedAt = &now
	}

	return &key, nil
}
