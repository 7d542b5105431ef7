package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// KeyMarker starts every issued key so leaked credentials are recognisable.
const KeyMarker = "cf_"

const keyRandomBytes = 24

// IssueKey generates a fresh raw key for ownerID and the record to persist.
// The raw key is returned once and never stored.
func IssueKey(ownerID, name string, scopes []string) (string, *models.APIKey, error) {
	if ownerID == "" {
		return "", nil, fmt.Errorf("owner id is required")
	}
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := KeyMarker + hex.EncodeToString(b)

	key, err := NewKeyRecord(ownerID, name, raw, scopes)
	if err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// NewKeyRecord hashes raw and builds the record the auth middleware looks up.
func NewKeyRecord(ownerID, name, raw string, scopes []string) (*models.APIKey, error) {
	if len(raw) < KeyPrefixLen {
		return nil, fmt.Errorf("key must be at least %d characters", KeyPrefixLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	if scopes == nil {
		scopes = []string{}
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
