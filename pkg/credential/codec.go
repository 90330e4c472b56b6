// Package credential issues and verifies the platform's session credentials
// and owns the other secret-derived values: invitation codes, password hashes
// and digests of sensitive data.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
)

// Token use values carried in the token_use claim
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// Claims is the verified content of a credential
type Claims struct {
	UserID      string
	Email       string
	Role        string
	Permissions []string
	TenantID    string
	TenantSlug  string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	TokenID     string
}

// TokenPair is an access and refresh token issued together
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	TenantSlug  string   `json:"tenant_slug,omitempty"`
	TokenUse    string   `json:"token_use"`
}

// Codec signs and verifies access and refresh tokens
type Codec struct {
	cfg           Config
	accessSecret  []byte
	refreshSecret []byte
	parser        *jwt.Parser
}

// NewCodec creates a codec from an explicit configuration
func NewCodec(cfg Config) (*Codec, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credential config: %w", err)
	}

	return &Codec{
		cfg:           cfg,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(cfg.Now),
		),
	}, nil
}

// AccessTokenTTL returns the configured access token lifetime
func (c *Codec) AccessTokenTTL() time.Duration {
	return c.cfg.AccessTokenTTL
}

// IssueAccess signs a short-lived access token
func (c *Codec) IssueAccess(claims Claims) (string, error) {
	token, _, err := c.issue(claims, TokenUseAccess, c.accessSecret, c.cfg.AccessTokenTTL)
	return token, err
}

// IssueRefresh signs a long-lived refresh token
func (c *Codec) IssueRefresh(claims Claims) (string, error) {
	token, _, err := c.issue(claims, TokenUseRefresh, c.refreshSecret, c.cfg.RefreshTokenTTL)
	return token, err
}

// IssuePair signs an access and refresh token for the same subject
func (c *Codec) IssuePair(claims Claims) (*TokenPair, error) {
	access, accessExp, err := c.issue(claims, TokenUseAccess, c.accessSecret, c.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := c.issue(claims, TokenUseRefresh, c.refreshSecret, c.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (c *Codec) issue(claims Claims, use string, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if claims.UserID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}

	now := c.cfg.Now()
	expiresAt := now.Add(ttl)

	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   claims.UserID,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{c.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		TenantID:    claims.TenantID,
		TenantSlug:  claims.TenantSlug,
		TokenUse:    use,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", use, err)
	}
	return signed, expiresAt, nil
}

// VerifyAccess verifies an access token and returns its claims
func (c *Codec) VerifyAccess(ctx context.Context, token string) (*Claims, error) {
	return c.verify(ctx, token, TokenUseAccess, c.accessSecret)
}

// VerifyRefresh verifies a refresh token and returns its claims
func (c *Codec) VerifyRefresh(ctx context.Context, token string) (*Claims, error) {
	return c.verify(ctx, token, TokenUseRefresh, c.refreshSecret)
}

func (c *Codec) verify(ctx context.Context, raw, use string, secret []byte) (*Claims, error) {
	if raw == "" {
		return nil, apperror.InvalidToken("Token is empty")
	}

	tc := &tokenClaims{}
	_, err := c.parser.ParseWithClaims(raw, tc, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if tc.TokenUse != use {
		return nil, apperror.InvalidToken(fmt.Sprintf("Expected %s token", use))
	}
	if tc.Subject == "" {
		return nil, apperror.InvalidToken("Missing subject in token")
	}

	claims := &Claims{
		UserID:      tc.Subject,
		Email:       tc.Email,
		Role:        tc.Role,
		Permissions: tc.Permissions,
		TenantID:    tc.TenantID,
		TenantSlug:  tc.TenantSlug,
		TokenID:     tc.ID,
	}
	if tc.IssuedAt != nil {
		claims.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		claims.ExpiresAt = tc.ExpiresAt.Time
	}

	if err := c.checkRevoked(ctx, claims.TokenID); err != nil {
		return nil, err
	}

	return claims, nil
}

// classify maps parser errors to the credential error codes. An issuer or
// audience mismatch is reported as INVALID_TOKEN even when the token has also
// expired.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperror.InvalidToken("Token issuer or audience mismatch")
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperror.TokenExpired()
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperror.InvalidToken("Invalid token signature")
	default:
		return apperror.InvalidToken("Invalid token")
	}
}

func (c *Codec) checkRevoked(ctx context.Context, tokenID string) error {
	if c.cfg.Denylist == nil || tokenID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.VerifyTimeout)
	defer cancel()

	revoked, err := c.cfg.Denylist.IsRevoked(ctx, tokenID)
	if err != nil {
		return apperror.ServiceUnavailable("Credential revocation check unavailable", err)
	}
	if revoked {
		return apperror.InvalidToken("Token has been revoked")
	}
	return nil
}

// RevocationEnabled reports whether a denylist is configured
func (c *Codec) RevocationEnabled() bool {
	return c.cfg.Denylist != nil
}

// ClaimRefresh spends a verified refresh token so it can be exchanged once.
// A token already spent or revoked fails with INVALID_TOKEN. Without a
// denylist refresh tokens are not single use and ClaimRefresh is a no-op.
func (c *Codec) ClaimRefresh(ctx context.Context, claims *Claims) error {
	if c.cfg.Denylist == nil {
		return nil
	}
	if claims == nil || claims.TokenID == "" {
		return apperror.InvalidToken("Token has no id")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.VerifyTimeout)
	defer cancel()

	claimed, err := c.cfg.Denylist.Claim(ctx, claims.TokenID, claims.ExpiresAt)
	if err != nil {
		return apperror.ServiceUnavailable("Credential revocation unavailable", err)
	}
	if !claimed {
		return apperror.InvalidToken("Token has been revoked")
	}
	return nil
}

// Revoke denylists a verified credential until it would have expired anyway
func (c *Codec) Revoke(ctx context.Context, claims *Claims) error {
	if c.cfg.Denylist == nil {
		return errors.New("revocation is not enabled")
	}
	if claims == nil || claims.TokenID == "" {
		return errors.New("token id is required")
	}
	if !claims.ExpiresAt.After(c.cfg.Now()) {
		return nil
	}
	return c.cfg.Denylist.Revoke(ctx, claims.TokenID, claims.ExpiresAt)
}
