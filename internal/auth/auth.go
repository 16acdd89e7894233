// Package auth hashes and checks the API bearer token.
package auth

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used for stored token hashes.
const DefaultCost = 12

// HashToken generates a bcrypt hash of the token for the api.token_hash
// setting.
func HashToken(token string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	return string(bytes), err
}

// CheckToken compares a presented token with a stored bcrypt hash.
func CheckToken(token, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	return err == nil
}

// GenerateToken returns a random URL-safe token.
func GenerateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
