package apikey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/richtunnel/partnerstestapi/internal/auth"
)

// DefaultKeyPrefix is the prefix NewService falls back to when given an
// empty one. It matches the default CREDENTIAL_PREFIX, which is the prefix
// internal/auth.Store.Resolve checks presented tokens against.
const DefaultKeyPrefix = "ms_"

// Service mints new credentials via the shared credential store.
type Service struct {
	credentials *auth.Store
	keyPrefix   string
	logger      *slog.Logger
}

// NewService creates an apikey Service backed by the credential store used
// for request authentication.
func NewService(credentials *auth.Store, keyPrefix string, logger *slog.Logger) *Service {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Service{credentials: credentials, keyPrefix: keyPrefix, logger: logger}
}

// Create mints a new credential for req and persists it. The plaintext key
// is only ever available in the returned CreateResponse.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	rawKey, hash, prefix, err := auth.GenerateKey(s.keyPrefix)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("generating credential: %w", err)
	}

	rateLimit := auth.DefaultRateLimitProfile()
	if req.RateLimits != nil {
		rateLimit = auth.RateLimitProfile{
			BurstLimit:  req.RateLimits.BurstLimit,
			MinuteLimit: req.RateLimits.MinuteLimit,
			HourLimit:   req.RateLimits.HourLimit,
			DayLimit:    req.RateLimits.DayLimit,
		}
	}

	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		t := time.Now().AddDate(0, 0, *req.ExpiresInDays)
		expiresAt = &t
	}

	cred, err := s.credentials.Create(ctx, auth.Credential{
		Tenant:     req.Tenant,
		Name:       req.Name,
		KeyPrefix:  prefix,
		KeyHash:    hash,
		Scopes:     req.Scopes,
		Status:     auth.StatusActive,
		ExpiresAt:  expiresAt,
		AllowedIPs: req.AllowedIPs,
		RateLimit:  rateLimit,
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating credential: %w", err)
	}

	s.logger.Info("credential issued", "credential_id", cred.ID, "tenant", cred.Tenant, "name", cred.Name)

	return CreateResponse{
		APIKey:    cred.ID.String(),
		Key:       rawKey,
		Scopes:    cred.Scopes,
		ExpiresAt: cred.ExpiresAt,
		CreatedAt: cred.CreatedAt,
	}, nil
}
