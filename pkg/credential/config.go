package credential

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultAccessTokenTTL is the default lifetime of access tokens
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL is the default lifetime of refresh tokens
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	// DefaultBcryptCost is the default bcrypt work factor
	DefaultBcryptCost = 12
	// DefaultVerifyTimeout bounds the revocation lookup during verification
	DefaultVerifyTimeout = 500 * time.Millisecond
)

// Config holds the codec secrets and token policy
type Config struct {
	AccessSecret    string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	Audience        string
	BcryptCost      int
	VerifyTimeout   time.Duration

	// Denylist is consulted on every verification when set
	Denylist Denylist
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = DefaultBcryptCost
	}
	if c.VerifyTimeout == 0 {
		c.VerifyTimeout = DefaultVerifyTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.AccessSecret == "" {
		return errors.New("access token secret is required")
	}
	if c.RefreshSecret == "" {
		return errors.New("refresh token secret is required")
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("access and refresh secrets must differ")
	}
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}
