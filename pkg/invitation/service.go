package invitation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/credential"
	"github.com/prohmpiriya/membership-gateway/pkg/logger"
)

const maxCodeAttempts = 3

// CodeIssuer produces invitation codes
type CodeIssuer interface {
	IssueInvitationCode() (string, error)
}

// Config configures a Service
type Config struct {
	Store          Store
	Codes          CodeIssuer
	DefaultTTL     time.Duration
	DefaultMaxUses int
	Logger         *logger.Logger
	Now            func() time.Time
}

// IssueRequest describes a new invitation
type IssueRequest struct {
	TenantID  string
	Email     string
	Role      string
	TTL       time.Duration
	MaxUses   int
	CreatedBy string
}

// Service issues and redeems invitations
type Service struct {
	store          Store
	codes          CodeIssuer
	defaultTTL     time.Duration
	defaultMaxUses int
	log            *logger.Logger
	now            func() time.Time
}

// NewService creates a new Service
func NewService(cfg Config) *Service {
	s := &Service{
		store:          cfg.Store,
		codes:          cfg.Codes,
		defaultTTL:     cfg.DefaultTTL,
		defaultMaxUses: cfg.DefaultMaxUses,
		log:            cfg.Logger,
		now:            cfg.Now,
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = 7 * 24 * time.Hour
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Issue creates an invitation with a fresh code
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Invitation, error) {
	if req.TenantID == "" {
		return nil, apperror.New(apperror.CodeBadRequest, "Tenant is required")
	}
	if strings.TrimSpace(req.Role) == "" {
		return nil, apperror.New(apperror.CodeBadRequest, "Role is required")
	}
	if req.MaxUses < 0 || req.TTL < 0 {
		return nil, apperror.New(apperror.CodeBadRequest, "TTL and max uses must not be negative")
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	maxUses := req.MaxUses
	if maxUses == 0 {
		maxUses = s.defaultMaxUses
	}

	now := s.now().UTC()
	inv := &Invitation{
		TenantID:  req.TenantID,
		Email:     normalizeEmail(req.Email),
		Role:      req.Role,
		ExpiresAt: now.Add(ttl),
		MaxUses:   maxUses,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
	}

	for attempt := 0; ; attempt++ {
		code, err := s.codes.IssueInvitationCode()
		if err != nil {
			return nil, apperror.Wrap(apperror.CodeInternal, "Failed to generate invitation code", err)
		}
		inv.Code = code

		err = s.store.Create(ctx, inv)
		if err == nil {
			break
		}
		if errors.Is(err, ErrExists) && attempt < maxCodeAttempts-1 {
			continue
		}
		return nil, apperror.ServiceUnavailable("Invitation store unavailable", err)
	}

	s.log.InfoContext(ctx, "Invitation issued",
		zap.String("tenant_id", inv.TenantID),
		zap.String("role", inv.Role),
		zap.Int("max_uses", inv.MaxUses),
		zap.Time("expires_at", inv.ExpiresAt),
	)
	return inv, nil
}

// Redeem consumes one use of code for email. An empty redemptionKey makes
// the redemption idempotent per email address.
func (s *Service) Redeem(ctx context.Context, tenantID, code, email, redemptionKey string) (*Redemption, error) {
	if !ValidCode(code) {
		return nil, apperror.InvitationNotFound()
	}
	if strings.TrimSpace(email) == "" {
		return nil, apperror.New(apperror.CodeBadRequest, "Email is required")
	}
	if redemptionKey == "" {
		redemptionKey = "email:" + credential.HashSensitive(normalizeEmail(email))
	}

	red, err := s.store.Redeem(ctx, RedeemRequest{
		TenantID:      tenantID,
		Code:          code,
		Email:         email,
		RedemptionKey: redemptionKey,
		Now:           s.now(),
	})
	switch {
	case err == nil:
		return red, nil
	case errors.Is(err, ErrNotFound):
		return nil, apperror.InvitationNotFound()
	case errors.Is(err, ErrExpired):
		return nil, apperror.InvitationExpired()
	case errors.Is(err, ErrExhausted):
		return nil, apperror.InvitationExhausted()
	case errors.Is(err, ErrEmailMismatch):
		return nil, apperror.InvitationEmailMismatch()
	default:
		return nil, apperror.ServiceUnavailable("Invitation store unavailable", err)
	}
}
