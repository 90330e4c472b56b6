package credential

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(clock *testClock) Config {
	return Config{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		Issuer:        "membership-gateway",
		Audience:      "membership-platform",
		BcryptCost:    bcrypt.MinCost,
		Now:           clock.Now,
	}
}

func newTestCodec(t *testing.T) (*Codec, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Now()}
	codec, err := NewCodec(testConfig(clock))
	require.NoError(t, err)
	return codec, clock
}

func sampleClaims() Claims {
	return Claims{
		UserID:      "user-123",
		Email:       "member@example.com",
		Role:        "admin",
		Permissions: []string{"members:read", "members:write"},
		TenantID:    "tenant-456",
		TenantSlug:  "acme",
	}
}

func assertCode(t *testing.T, err error, code apperror.Code) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok, "expected *apperror.Error, got %T", err)
	assert.Equal(t, code, appErr.Code)
}

func TestNewCodec_Validation(t *testing.T) {
	clock := &testClock{now: time.Now()}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing access secret", func(c *Config) { c.AccessSecret = "" }},
		{"missing refresh secret", func(c *Config) { c.RefreshSecret = "" }},
		{"equal secrets", func(c *Config) { c.RefreshSecret = c.AccessSecret }},
		{"missing issuer", func(c *Config) { c.Issuer = "" }},
		{"negative ttl", func(c *Config) { c.AccessTokenTTL = -time.Minute }},
		{"bcrypt cost too high", func(c *Config) { c.BcryptCost = 99 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(clock)
			tt.mutate(&cfg)
			_, err := NewCodec(cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewCodec_Defaults(t *testing.T) {
	codec, _ := newTestCodec(t)
	assert.Equal(t, DefaultAccessTokenTTL, codec.AccessTokenTTL())
	assert.Equal(t, DefaultRefreshTokenTTL, codec.cfg.RefreshTokenTTL)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	codec, clock := newTestCodec(t)
	in := sampleClaims()

	token, err := codec.IssueAccess(in)
	require.NoError(t, err)

	out, err := codec.VerifyAccess(context.Background(), token)
	require.NoError(t, err)

	if diff := cmp.Diff(in, *out, cmpopts.IgnoreFields(Claims{}, "IssuedAt", "ExpiresAt", "TokenID")); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, out.TokenID)
	assert.WithinDuration(t, clock.Now().Add(DefaultAccessTokenTTL), out.ExpiresAt, time.Second)
}

func TestAccessToken_Expiry(t *testing.T) {
	codec, clock := newTestCodec(t)

	token, err := codec.IssueAccess(sampleClaims())
	require.NoError(t, err)

	clock.Advance(DefaultAccessTokenTTL - time.Minute)
	_, err = codec.VerifyAccess(context.Background(), token)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = codec.VerifyAccess(context.Background(), token)
	assertCode(t, err, apperror.CodeTokenExpired)
	assert.True(t, errors.Is(err, apperror.ErrTokenExpired))
}

func TestCrossUse_Rejected(t *testing.T) {
	codec, _ := newTestCodec(t)
	ctx := context.Background()

	refresh, err := codec.IssueRefresh(sampleClaims())
	require.NoError(t, err)
	access, err := codec.IssueAccess(sampleClaims())
	require.NoError(t, err)

	_, err = codec.VerifyAccess(ctx, refresh)
	assertCode(t, err, apperror.CodeInvalidToken)

	_, err = codec.VerifyRefresh(ctx, access)
	assertCode(t, err, apperror.CodeInvalidToken)

	_, err = codec.VerifyRefresh(ctx, refresh)
	assert.NoError(t, err)
}

func TestCrossUse_SameSecretStillRejected(t *testing.T) {
	// A token signed with the right key but the wrong token_use must still fail.
	codec, clock := newTestCodec(t)

	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Subject:   "user-123",
			Issuer:    codec.cfg.Issuer,
			Audience:  jwt.ClaimStrings{codec.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
		TokenUse: TokenUseRefresh,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(codec.accessSecret)
	require.NoError(t, err)

	_, err = codec.VerifyAccess(context.Background(), token)
	assertCode(t, err, apperror.CodeInvalidToken)
}

func TestVerify_IssuerMismatchWinsOverExpiry(t *testing.T) {
	clock := &testClock{now: time.Now()}
	cfg := testConfig(clock)

	otherCfg := cfg
	otherCfg.Issuer = "someone-else"
	other, err := NewCodec(otherCfg)
	require.NoError(t, err)
	codec, err := NewCodec(cfg)
	require.NoError(t, err)

	token, err := other.IssueAccess(sampleClaims())
	require.NoError(t, err)

	clock.Advance(time.Hour)

	_, err = codec.VerifyAccess(context.Background(), token)
	assertCode(t, err, apperror.CodeInvalidToken)
}

func TestVerify_AudienceMismatch(t *testing.T) {
	clock := &testClock{now: time.Now()}
	cfg := testConfig(clock)

	otherCfg := cfg
	otherCfg.Audience = "another-platform"
	other, err := NewCodec(otherCfg)
	require.NoError(t, err)
	codec, err := NewCodec(cfg)
	require.NoError(t, err)

	token, err := other.IssueAccess(sampleClaims())
	require.NoError(t, err)

	_, err = codec.VerifyAccess(context.Background(), token)
	assertCode(t, err, apperror.CodeInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	codec, clock := newTestCodec(t)

	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    codec.cfg.Issuer,
			Audience:  jwt.ClaimStrings{codec.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
		TokenUse: TokenUseAccess,
	}

	t.Run("HS512", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, tc).SignedString(codec.accessSecret)
		require.NoError(t, err)
		_, err = codec.VerifyAccess(context.Background(), token)
		assertCode(t, err, apperror.CodeInvalidToken)
	})

	t.Run("none", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, tc).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = codec.VerifyAccess(context.Background(), token)
		assertCode(t, err, apperror.CodeInvalidToken)
	})
}

func TestVerify_Malformed(t *testing.T) {
	codec, _ := newTestCodec(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := codec.VerifyAccess(context.Background(), token)
		assertCode(t, err, apperror.CodeInvalidToken)
	}
}

func TestVerify_MissingExpirationRejected(t *testing.T) {
	codec, _ := newTestCodec(t)

	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "user-123",
			Issuer:   codec.cfg.Issuer,
			Audience: jwt.ClaimStrings{codec.cfg.Audience},
		},
		TokenUse: TokenUseAccess,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(codec.accessSecret)
	require.NoError(t, err)

	_, err = codec.VerifyAccess(context.Background(), token)
	assertCode(t, err, apperror.CodeInvalidToken)
}

func TestIssuePair(t *testing.T) {
	codec, _ := newTestCodec(t)

	pair, err := codec.IssuePair(sampleClaims())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	_, err = codec.VerifyAccess(context.Background(), pair.AccessToken)
	assert.NoError(t, err)
	_, err = codec.VerifyRefresh(context.Background(), pair.RefreshToken)
	assert.NoError(t, err)
}

func TestIssue_RequiresUserID(t *testing.T) {
	codec, _ := newTestCodec(t)
	_, err := codec.IssueAccess(Claims{TenantID: "tenant-456"})
	assert.Error(t, err)
}

func TestRevocation(t *testing.T) {
	clock := &testClock{now: time.Now()}
	cfg := testConfig(clock)
	cfg.Denylist = NewMemoryDenylist()
	codec, err := NewCodec(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	token, err := codec.IssueAccess(sampleClaims())
	require.NoError(t, err)

	claims, err := codec.VerifyAccess(ctx, token)
	require.NoError(t, err)

	require.NoError(t, codec.Revoke(ctx, claims))

	_, err = codec.VerifyAccess(ctx, token)
	assertCode(t, err, apperror.CodeInvalidToken)
}

type failingDenylist struct{}

func (failingDenylist) Revoke(context.Context, string, time.Time) error { return errors.New("down") }
func (failingDenylist) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}
func (failingDenylist) Claim(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRevocation_LookupFailureFailsClosed(t *testing.T) {
	clock := &testClock{now: time.Now()}
	cfg := testConfig(clock)
	cfg.Denylist = failingDenylist{}
	codec, err := NewCodec(cfg)
	require.NoError(t, err)

	token, err := codec.IssueAccess(sampleClaims())
	require.NoError(t, err)

	_, err = codec.VerifyAccess(context.Background(), token)
	assertCode(t, err, apperror.CodeServiceUnavailable)
}

func TestClaimRefresh_SpendsTokenOnce(t *testing.T) {
	clock := &testClock{now: time.Now()}
	cfg := testConfig(clock)
	cfg.Denylist = NewMemoryDenylist()
	codec, err := NewCodec(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	token, err := codec.IssueRefresh(sampleClaims())
	require.NoError(t, err)
	claims, err := codec.VerifyRefresh(ctx, token)
	require.NoError(t, err)

	require.NoError(t, codec.ClaimRefresh(ctx, claims))
	assertCode(t, codec.ClaimRefresh(ctx, claims), apperror.CodeInvalidToken)

	_, err = codec.VerifyRefresh(ctx, token)
	assertCode(t, err, apperror.CodeInvalidToken)
}

func TestClaimRefresh_StoreFailure(t *testing.T) {
	clock := &testClock{now: time.Now()}
	cfg := testConfig(clock)
	cfg.Denylist = failingDenylist{}
	codec, err := NewCodec(cfg)
	require.NoError(t, err)

	err = codec.ClaimRefresh(context.Background(), &Claims{TokenID: "jti-1", ExpiresAt: time.Now().Add(time.Hour)})
	assertCode(t, err, apperror.CodeServiceUnavailable)
}

func TestClaimRefresh_WithoutDenylist(t *testing.T) {
	codec, _ := newTestCodec(t)
	assert.NoError(t, codec.ClaimRefresh(context.Background(), &Claims{TokenID: "x", ExpiresAt: time.Now().Add(time.Hour)}))
}

func TestMemoryDenylist_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	d := NewMemoryDenylist()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := d.Claim(ctx, "jti-1", exp)
			assert.NoError(t, err)
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	revoked, err := d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	claimed, err := d.Claim(ctx, "jti-2", time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRevoke_WithoutDenylist(t *testing.T) {
	codec, _ := newTestCodec(t)
	err := codec.Revoke(context.Background(), &Claims{TokenID: "x", ExpiresAt: time.Now().Add(time.Hour)})
	assert.Error(t, err)
}

var base64URLCode = regexp.MustCompile(`^[A-Za-z0-9_-]{22}$`)

func TestIssueInvitationCode(t *testing.T) {
	codec, _ := newTestCodec(t)
	seen := make(map[string]struct{}, 1000)

	for i := 0; i < 1000; i++ {
		code, err := codec.IssueInvitationCode()
		require.NoError(t, err)
		require.Len(t, code, 22)
		require.Regexp(t, base64URLCode, code)

		_, dup := seen[code]
		require.False(t, dup, "duplicate invitation code %s", code)
		seen[code] = struct{}{}
	}
}

func TestPasswordHashing(t *testing.T) {
	codec, _ := newTestCodec(t)

	hash, err := codec.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.True(t, codec.VerifyPassword("correct horse battery staple", hash))
	assert.False(t, codec.VerifyPassword("wrong", hash))
	assert.False(t, codec.VerifyPassword("anything", "not-a-hash"))
}

func TestHashSensitive(t *testing.T) {
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		HashSensitive("abc"))
	assert.Equal(t, HashSensitive("x"), HashSensitive("x"))
	assert.NotEqual(t, HashSensitive("x"), HashSensitive("y"))
}

func TestMemoryDenylist_Expiry(t *testing.T) {
	d := NewMemoryDenylist()
	now := time.Now()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, d.Revoke(ctx, "a", now.Add(time.Minute)))

	revoked, err := d.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	now = now.Add(2 * time.Minute)
	revoked, err = d.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, _ = d.IsRevoked(ctx, "unknown")
	assert.False(t, revoked)
}
