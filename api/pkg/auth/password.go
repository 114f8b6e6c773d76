// Package auth covers password storage and the in-memory session table.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PasswordIterations is the PBKDF2 work factor.
	PasswordIterations = 150_000
	saltBytes          = 16
	hashBytes          = sha256.Size
)

// HashPassword derives a PBKDF2-HMAC-SHA256 hash with a fresh random salt.
// Both values are hex encoded.
func HashPassword(password string) (saltHex, hashHex string, err error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(salt), hashWithSalt(password, salt), nil
}

// VerifyPassword recomputes the hash with the stored salt and compares in
// constant time.
func VerifyPassword(password, saltHex, hashHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	computed := hashWithSalt(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hashHex)) == 1
}

func hashWithSalt(password string, salt []byte) string {
	key := pbkdf2.Key([]byte(password), salt, PasswordIterations, hashBytes, sha256.New)
	return hex.EncodeToString(key)
}
