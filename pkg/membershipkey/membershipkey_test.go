package membershipkey

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var registered = time.Date(2024, time.October, 15, 9, 30, 0, 0, time.UTC)

func TestGenerate_RoundTripsThroughValidate(t *testing.T) {
	for _, tier := range Tiers {
		t.Run(tier.Name, func(t *testing.T) {
			key, err := Generate("user-123", tier, registered, "Ada Lovelace")
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(key, tier.Prefix))
			assert.Len(t, strings.Split(key, tier.Separator), 5)

			info, err := Validate(key)
			require.NoError(t, err)
			assert.Equal(t, tier.Name, info.Tier)
			assert.Equal(t, tier.Level, info.Level)
			assert.Equal(t, "AL", info.PersonalElement)
			assert.Equal(t, userHash("user-123")[:3], info.UserHash)
			assert.Equal(t, time.Date(2024, time.October, 15, 0, 0, 0, 0, time.UTC), info.RegisteredAt)
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate("user-123", Orchestrator, registered, "Ada")
	require.NoError(t, err)
	b, err := Generate("user-123", Orchestrator, registered, "Ada")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Generate("user-456", Orchestrator, registered, "Ada")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenerate_PersonalElementPadding(t *testing.T) {
	hash := userHash("user-123")

	tests := []struct {
		name string
		want string
	}{
		{"Ada Lovelace", "AL"},
		{"ada   byron lovelace", "AB"},
		{"Ada", "A" + hash[:1]},
		{"", hash[:2]},
		{"ñandu émile", "ÑÉ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, personalElement(tt.name, hash))

			key, err := Generate("user-123", Godfather, registered, tt.name)
			require.NoError(t, err)
			info, err := Validate(key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.PersonalElement)
		})
	}
}

func TestGenerate_PatternAvoidsSeparators(t *testing.T) {
	for i := 0; i < 200; i++ {
		at := registered.Add(time.Duration(i) * time.Hour)
		for _, tier := range Tiers {
			key, err := Generate("user-"+at.String(), tier, at, "")
			require.NoError(t, err)
			_, err = Validate(key)
			require.NoError(t, err, "key %q", key)
		}
	}
}

func TestGenerate_Errors(t *testing.T) {
	_, err := Generate("", Archivist, registered, "")
	assert.Error(t, err)

	_, err = Generate("user-1", Tier{}, registered, "")
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestValidate_Rejects(t *testing.T) {
	key, err := Generate("user-123", Archivist, registered, "Ada Lovelace")
	require.NoError(t, err)
	segments := strings.Split(key, Archivist.Separator)

	tamperedChecksum := strings.Join(append(segments[:4:4], "00"), "-")
	if tamperedChecksum == key {
		tamperedChecksum = strings.Join(append(segments[:4:4], "11"), "-")
	}

	// A key whose tier letter says ORCHESTRATOR but whose prefix says ARCHIVIST.
	wrongTier := append([]string(nil), segments...)
	wrongTier[1] = "B" + wrongTier[1][1:]
	wrongTier[4] = checksum(strings.Join(wrongTier[:4], ""))

	tests := []struct {
		name string
		key  string
		want error
	}{
		{"unknown prefix", "XYZ123-A-B-C-D", ErrUnknownFormat},
		{"no separator", "ARK123", ErrUnknownFormat},
		{"too few segments", strings.Join(segments[:4], "-"), ErrInvalidStructure},
		{"bad checksum", tamperedChecksum, ErrInvalidChecksum},
		{"tier mismatch", strings.Join(wrongTier, "-"), ErrTierMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.key)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestChecksum(t *testing.T) {
	got := checksum("ARK1A2")
	assert.Len(t, got, 2)
	assert.Equal(t, got, checksum("ARK1A2"))
	assert.NotEqual(t, got, checksum("ARK1A3"))
	assert.Equal(t, strings.ToUpper(got), got)
}

func TestTierByName(t *testing.T) {
	tier, err := TierByName("godfather")
	require.NoError(t, err)
	assert.Equal(t, Godfather, tier)

	_, err = TierByName("emperor")
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestQRPayload(t *testing.T) {
	key, err := Generate("user-123", Entity, registered, "Ada Lovelace")
	require.NoError(t, err)

	qr, err := QRPayload(key, "https://members.example.com/validate/")
	require.NoError(t, err)

	assert.Equal(t, key, qr.MembershipKey)
	assert.True(t, strings.HasPrefix(qr.ValidationURL, "https://members.example.com/validate/"))
	assert.NotContains(t, qr.ValidationURL, "⟡")
	assert.Equal(t, "ENTITY", qr.Tier)
	assert.Equal(t, 4, qr.Level)
	assert.Equal(t, "entity", qr.Style)
	assert.Equal(t, "#FFBE0B", qr.Color)
	assert.Equal(t, 8, qr.PatternComplexity)

	_, err = QRPayload("garbage", "https://members.example.com/validate")
	assert.Error(t, err)
}
