package database

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// legacySalt matches the fixed salt of pre-bcrypt databases. Digests
// produced with it are verified read-only and rehashed on first login.
const legacySalt = "chat_salt_2024"

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func legacyHash(password string) string {
	sum := sha256.Sum256([]byte(password + legacySalt))
	return hex.EncodeToString(sum[:])
}

// verifyPassword checks password against a stored hash. needsRehash is
// true when the stored hash uses the legacy scheme and should be
// upgraded now that the plaintext is in hand.
func verifyPassword(stored, password string) (ok, needsRehash bool) {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil, false
	}
	match := subtle.ConstantTimeCompare([]byte(stored), []byte(legacyHash(password))) == 1
	return match, match
}
