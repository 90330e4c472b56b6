package invitation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	pkgredis "github.com/prohmpiriya/membership-gateway/pkg/redis"
)

const (
	createScriptName = "invitation_create"
	redeemScriptName = "invitation_redeem"
)

// createScript stores the invitation hash unless the code is taken
const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "tenant_id", ARGV[1], "email", ARGV[2], "role", ARGV[3],
    "expires_at", ARGV[4], "max_uses", ARGV[5], "uses", 0,
    "created_by", ARGV[6], "created_at", ARGV[7])
redis.call("PEXPIREAT", KEYS[1], ARGV[4])
return 1
`

// redeemScript checks existence, tenant, expiry, email binding, replay and
// remaining uses, then consumes one use, all in one atomic step.
const redeemScript = `
local inv = KEYS[1]
local redeemed = KEYS[2]
local tenant = ARGV[1]
local email = ARGV[2]
local rkey = ARGV[3]
local now = tonumber(ARGV[4])

local f = redis.call("HMGET", inv, "tenant_id", "expires_at", "email", "max_uses", "uses", "role")
if not f[1] or f[1] ~= tenant then
    return {"not_found"}
end
if tonumber(f[2]) <= now then
    return {"expired"}
end
if f[3] ~= "" and f[3] ~= email then
    return {"email_mismatch"}
end
local prev = redis.call("HGET", redeemed, rkey)
if prev then
    if prev ~= email then
        return {"exhausted"}
    end
    return {"replayed", f[5], f[6]}
end

local max_uses = tonumber(f[4])
if max_uses > 0 and tonumber(f[5]) >= max_uses then
    return {"exhausted"}
end

local uses = redis.call("HINCRBY", inv, "uses", 1)
redis.call("HSET", redeemed, rkey, email)
redis.call("PEXPIREAT", redeemed, f[2])
return {"redeemed", tostring(uses), f[6]}
`

// RedisStore keeps invitations in Redis hashes that expire with the
// invitation. Redemption keys live in a companion hash
// mapping each key to the address that used it.
type RedisStore struct {
	client *pkgredis.Client
}

// NewRedisStore loads the invitation scripts and returns a RedisStore
func NewRedisStore(ctx context.Context, client *pkgredis.Client) (*RedisStore, error) {
	if _, err := client.LoadScript(ctx, createScriptName, createScript); err != nil {
		return nil, err
	}
	if _, err := client.LoadScript(ctx, redeemScriptName, redeemScript); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func invitationKey(code string) string {
	return "invitation:" + code
}

func redeemedKey(code string) string {
	return "invitation:" + code + ":redeemed"
}

func (s *RedisStore) Create(ctx context.Context, inv *Invitation) error {
	created, err := s.client.EvalShaByName(ctx, createScriptName, []string{invitationKey(inv.Code)},
		inv.TenantID,
		inv.Email,
		inv.Role,
		inv.ExpiresAt.UnixMilli(),
		inv.MaxUses,
		inv.CreatedBy,
		inv.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	if created == 0 {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, code string) (*Invitation, error) {
	fields, err := s.client.HGetAll(ctx, invitationKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	inv := &Invitation{
		Code:      code,
		TenantID:  fields["tenant_id"],
		Email:     fields["email"],
		Role:      fields["role"],
		CreatedBy: fields["created_by"],
	}
	inv.MaxUses, _ = strconv.Atoi(fields["max_uses"])
	inv.Uses, _ = strconv.Atoi(fields["uses"])
	if ms, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil {
		inv.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		inv.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return inv, nil
}

func (s *RedisStore) Redeem(ctx context.Context, req RedeemRequest) (*Redemption, error) {
	result, err := s.client.EvalShaByName(ctx, redeemScriptName,
		[]string{invitationKey(req.Code), redeemedKey(req.Code)},
		req.TenantID,
		normalizeEmail(req.Email),
		req.RedemptionKey,
		req.Now.UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to redeem invitation: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("failed to redeem invitation: empty script result")
	}

	switch result[0] {
	case "not_found":
		return nil, ErrNotFound
	case "expired":
		return nil, ErrExpired
	case "email_mismatch":
		return nil, ErrEmailMismatch
	case "exhausted":
		return nil, ErrExhausted
	case "redeemed", "replayed":
		if len(result) != 3 {
			return nil, fmt.Errorf("failed to redeem invitation: unexpected result %v", result)
		}
		uses, _ := strconv.Atoi(result[1])
		return &Redemption{
			Code:     req.Code,
			TenantID: req.TenantID,
			Email:    normalizeEmail(req.Email),
			Role:     result[2],
			Uses:     uses,
			Replayed: result[0] == "replayed",
		}, nil
	}
	return nil, fmt.Errorf("failed to redeem invitation: unexpected outcome %q", result[0])
}
