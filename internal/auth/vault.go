package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters tuned for password/PIN storage. A verify costs one full
// derivation; that latency is the point.
const (
	argonAlgo        = "argon2id"
	argonTime        = 3
	argonMemoryKiB   = 64 * 1024
	argonParallelism = 1
	argonKeyLen      = 32
	argonSaltLen     = 16
)

// Vault hashes and verifies stored secrets (passwords and kiosk PINs).
type Vault struct {
	creds CredentialStore
	now   func() time.Time
}

// NewVault constructs a Vault over the given credential store.
func NewVault(creds CredentialStore) *Vault {
	return &Vault{creds: creds, now: time.Now}
}

// Hash generates a fresh random salt and derives an argon2id hash.
func (v *Vault) Hash(secret string) (salt, hash []byte, err error) {
	salt = make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	hash = argon2.IDKey([]byte(secret), salt, argonTime, argonMemoryKiB, argonParallelism, argonKeyLen)
	return salt, hash, nil
}

// Verify re-derives the hash with the stored salt and compares in constant
// time. Any mismatch returns false, never an error.
func (v *Vault) Verify(secret string, salt, storedHash []byte) bool {
	if len(salt) == 0 || len(storedHash) == 0 {
		return false
	}
	derived := argon2.IDKey([]byte(secret), salt, argonTime, argonMemoryKiB, argonParallelism, argonKeyLen)
	return subtle.ConstantTimeCompare(derived, storedHash) == 1
}

// UpdateCredential upserts the (user, provider) row with a freshly derived
// hash. Persistence failures propagate; credential writes must not silently fail.
func (v *Vault) UpdateCredential(ctx context.Context, userID, provider, secret string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if provider != ProviderPassword && provider != ProviderKioskPIN {
		return fmt.Errorf("%w: unsupported provider %s", ErrInvalidInput, provider)
	}
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidInput)
	}
	salt, hash, err := v.Hash(secret)
	if err != nil {
		return err
	}
	return v.creds.Upsert(ctx, &Credential{
		UserID:    userID,
		Provider:  provider,
		Algo:      argonAlgo,
		Salt:      salt,
		Hash:      hash,
		UpdatedAt: v.now().UTC(),
	})
}

// VerifyCredential loads the stored row and checks the candidate secret.
// A missing row or an unrecognized algorithm tag fails closed without running
// the KDF.
func (v *Vault) VerifyCredential(ctx context.Context, userID, provider, secret string) (bool, error) {
	cred, err := v.creds.Find(ctx, userID, provider)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if cred.Algo != argonAlgo {
		return false, nil
	}
	return v.Verify(secret, cred.Salt, cred.Hash), nil
}

// GenerateCode returns a cryptographically random numeric string of the given
// length, each digit drawn uniformly.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: code length must be positive", ErrInvalidInput)
	}
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
