package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyCost = 12

// GenerateAPIKey returns a random 32-byte hex key and its bcrypt hash. The
// hash goes into HASHED_API_KEY; the key is handed to callers.
func GenerateAPIKey() (key, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	key = hex.EncodeToString(buf)

	h, err := bcrypt.GenerateFromPassword([]byte(key), apiKeyCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing api key: %w", err)
	}
	return key, string(h), nil
}

func checkAPIKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
