// Package membershipkey issues and validates tiered member keys. A key is
// five segments joined by the tier's separator:
//
//	PREFIX+hash | tier letter+pattern | date | pattern+personal | checksum
package membershipkey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Tier is a membership level
type Tier struct {
	Level     int
	Name      string
	Separator string
	Prefix    string
	Color     string
}

var (
	Archivist    = Tier{Level: 1, Name: "ARCHIVIST", Separator: "-", Prefix: "ARK", Color: "#3A86FF"}
	Orchestrator = Tier{Level: 2, Name: "ORCHESTRATOR", Separator: ":", Prefix: "ORC", Color: "#8338EC"}
	Godfather    = Tier{Level: 3, Name: "GODFATHER", Separator: "∞", Prefix: "GOD", Color: "#FF006E"}
	Entity       = Tier{Level: 4, Name: "ENTITY", Separator: "⟡", Prefix: "NXS", Color: "#FFBE0B"}
)

// Tiers lists every tier by ascending level
var Tiers = []Tier{Archivist, Orchestrator, Godfather, Entity}

var (
	ErrUnknownTier      = errors.New("unknown tier")
	ErrUnknownFormat    = errors.New("unknown key format")
	ErrInvalidStructure = errors.New("invalid key structure")
	ErrInvalidChecksum  = errors.New("invalid checksum")
	ErrTierMismatch     = errors.New("tier identifier mismatch")
)

const (
	patternChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// specialChars excludes every tier separator and characters that need
	// escaping in a URL path.
	specialChars = "!@$^&*~=_+"
)

// TierByName finds a tier by case-insensitive name
func TierByName(name string) (Tier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return Tier{}, fmt.Errorf("%w: %s", ErrUnknownTier, name)
}

// Info is what a valid key reveals about its holder
type Info struct {
	UserHash        string    `json:"userHash"`
	Tier            string    `json:"tier"`
	Level           int       `json:"level"`
	RegisteredAt    time.Time `json:"registeredAt"`
	PersonalElement string    `json:"personalElement"`
}

// Generate derives a key for userID. The same inputs always produce the same key.
func Generate(userID string, tier Tier, registeredAt time.Time, name string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if tier.Level < 1 || tier.Level > 26 || tier.Separator == "" {
		return "", ErrUnknownTier
	}

	hash := userHash(userID)
	pattern := uniquePattern(userID, registeredAt)

	segA := tier.Prefix + hash[:3]
	segB := string(rune('A'+tier.Level-1)) + pattern[:4]
	segC := encodeDate(registeredAt)
	segD := pattern[4:8]
	personal := personalElement(name, hash)

	sum := checksum(segA + segB + segC + segD + personal)
	return strings.Join([]string{segA, segB, segC, segD + personal, sum}, tier.Separator), nil
}

// Validate checks a key's structure and checksum and decodes it
func Validate(key string) (*Info, error) {
	tier, ok := detectTier(key)
	if !ok {
		return nil, ErrUnknownFormat
	}

	segments := strings.Split(key, tier.Separator)
	if len(segments) != 5 {
		return nil, ErrInvalidStructure
	}
	segA, segB, segC, segDP, sum := segments[0], segments[1], segments[2], segments[3], segments[4]

	dp := []rune(segDP)
	if len(segA) <= len(tier.Prefix) || segB == "" || len(segC) != 5 || len(dp) < 3 {
		return nil, ErrInvalidStructure
	}
	personal := string(dp[len(dp)-2:])

	if checksum(segA+segB+segC+segDP) != sum {
		return nil, ErrInvalidChecksum
	}
	if int(segB[0]-'A')+1 != tier.Level {
		return nil, ErrTierMismatch
	}

	info := &Info{
		UserHash:        segA[len(tier.Prefix):],
		Tier:            tier.Name,
		Level:           tier.Level,
		PersonalElement: personal,
	}
	if t, err := decodeDate(segC); err == nil {
		info.RegisteredAt = t
	}
	return info, nil
}

// QRCode is the payload a client renders as a tier-styled QR code
type QRCode struct {
	MembershipKey     string `json:"membershipKey"`
	ValidationURL     string `json:"validationUrl"`
	Tier              string `json:"tier"`
	Level             int    `json:"level"`
	Style             string `json:"style"`
	Color             string `json:"color"`
	PatternComplexity int    `json:"patternComplexity"`
}

// QRPayload validates key and builds its QR payload
func QRPayload(key, baseURL string) (*QRCode, error) {
	info, err := Validate(key)
	if err != nil {
		return nil, err
	}
	tier, _ := TierByName(info.Tier)

	return &QRCode{
		MembershipKey:     key,
		ValidationURL:     strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(key),
		Tier:              tier.Name,
		Level:             tier.Level,
		Style:             strings.ToLower(tier.Name),
		Color:             tier.Color,
		PatternComplexity: min(tier.Level*2, 10),
	}, nil
}

func detectTier(key string) (Tier, bool) {
	for _, t := range Tiers {
		if strings.HasPrefix(key, t.Prefix) && strings.Contains(key, t.Separator) {
			return t, true
		}
	}
	return Tier{}, false
}

func userHash(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return strings.ToUpper(hex.EncodeToString(sum[:3]))
}

// uniquePattern yields 8 characters with a special character in every
// fourth position
func uniquePattern(userID string, registeredAt time.Time) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(registeredAt.Unix()))
	sum := sha256.Sum256(append([]byte(userID+"|"), ts[:]...))

	var b strings.Builder
	for i := 0; i < 8; i++ {
		if i%4 == 3 {
			b.WriteByte(specialChars[int(sum[i])%len(specialChars)])
		} else {
			b.WriteByte(patternChars[int(sum[i])%len(patternChars)])
		}
	}
	return b.String()
}

func encodeDate(t time.Time) string {
	return fmt.Sprintf("%02X%X%02X", t.Year()%100, int(t.Month()), t.Day())
}

func decodeDate(s string) (time.Time, error) {
	year, err := strconv.ParseInt(s[:2], 16, 0)
	if err != nil {
		return time.Time{}, err
	}
	month, err := strconv.ParseInt(s[2:3], 16, 0)
	if err != nil {
		return time.Time{}, err
	}
	day, err := strconv.ParseInt(s[3:], 16, 0)
	if err != nil {
		return time.Time{}, err
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, errors.New("date out of range")
	}
	return time.Date(2000+int(year), time.Month(month), int(day), 0, 0, 0, 0, time.UTC), nil
}

// personalElement is two characters: the holder's initials, padded from the
// user hash
func personalElement(name, hash string) string {
	var initials []rune
	for _, part := range strings.Fields(name) {
		r := []rune(part)[0]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		initials = append(initials, unicode.ToUpper(r))
		if len(initials) == 2 {
			break
		}
	}
	for i := 0; len(initials) < 2; i++ {
		initials = append(initials, rune(hash[i]))
	}
	return string(initials)
}

// checksum is two base-36 digits over the position-weighted rune sum
func checksum(s string) string {
	var sum int64
	for i, r := range []rune(s) {
		sum += int64(r) * int64(i+1)
	}
	return strings.ToUpper(strconv.FormatInt(sum%36, 36) + strconv.FormatInt((sum*13)%36, 36))
}
