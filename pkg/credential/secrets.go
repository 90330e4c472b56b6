package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// invitationCodeBytes gives 128 bits of entropy, 22 base64url characters
const invitationCodeBytes = 16

// IssueInvitationCode returns a new 22-character URL-safe invitation code
func (c *Codec) IssueInvitationCode() (string, error) {
	return NewInvitationCode()
}

// NewInvitationCode returns a new 22-character URL-safe invitation code
func NewInvitationCode() (string, error) {
	buf := make([]byte, invitationCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashPassword hashes a password with the configured bcrypt cost
func (c *Codec) HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), c.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plain matches the bcrypt hash
func (c *Codec) VerifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// HashSensitive returns the hex SHA-256 digest of data. Not for passwords.
func HashSensitive(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
