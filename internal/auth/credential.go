// Package auth implements the credential store (C1): resolving a presented
// API key to a tenant identity, scope set, rate-limit profile, and
// restrictions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/store"
)

// Status is the lifecycle state of a Credential.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// Scopes recognized by the gateway.
const (
	ScopeDemographicsRead   = "demographics:read"
	ScopeDemographicsWrite  = "demographics:write"
	ScopeDemographicsDelete = "demographics:delete"
	ScopeDemographicsAdmin  = "demographics:admin"
	ScopeWebhooksManage     = "webhooks:manage"
	ScopeFilesUpload        = "files:upload"
)

// RateLimitProfile is the per-credential window configuration consulted by
// the rate limiter (C2).
type RateLimitProfile struct {
	BurstLimit  int `json:"burst_limit"`
	MinuteLimit int `json:"minute_limit"`
	HourLimit   int `json:"hour_limit"`
	DayLimit    int `json:"day_limit"`
}

// DefaultRateLimitProfile is used when a credential carries no explicit
// overrides.
func DefaultRateLimitProfile() RateLimitProfile {
	return RateLimitProfile{
		BurstLimit:  100,
		MinuteLimit: 600,
		HourLimit:   10000,
		DayLimit:    100000,
	}
}

// Credential is the persisted record backing an API key.
type Credential struct {
	ID          uuid.UUID
	Tenant      string
	Name        string
	KeyPrefix   string
	KeyHash     string
	Scopes      []string
	Status      Status
	ExpiresAt   *time.Time
	AllowedIPs  []string
	RateLimit   RateLimitProfile
	UseCount    int64
	LastUsedAt  *time.Time
	LastUsedIP  string
	CreatedAt   time.Time
}

// FailureReason enumerates why resolve() refused a presented token. Values
// are ordered the way the credential store evaluates them: the first
// applicable reason is returned.
type FailureReason string

const (
	FailureNone               FailureReason = ""
	FailureMalformed          FailureReason = "malformed"
	FailureNotFound           FailureReason = "not-found"
	FailureHashMismatch       FailureReason = "hash-mismatch"
	FailureStatusNotActive    FailureReason = "status-not-active"
	FailureExpired            FailureReason = "expired"
	FailureIPNotAllowed       FailureReason = "ip-not-allowed"
	FailureScopesInsufficient FailureReason = "scopes-insufficient"
)

// TenantContext is the value returned by a successful resolve(). It carries
// no locks or live handles — it is safe to pass by value and hold beyond the
// request.
type TenantContext struct {
	Tenant       string
	Scopes       []string
	RateLimit    RateLimitProfile
	CredentialID uuid.UUID
	Principal    string
}

// HasScope reports whether the context's scope set contains scope.
func (tc TenantContext) HasScope(scope string) bool {
	for _, s := range tc.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasScopes reports whether every scope in required is present.
func (tc TenantContext) HasScopes(required ...string) bool {
	for _, r := range required {
		if !tc.HasScope(r) {
			return false
		}
	}
	return true
}

// HashKey computes the secure hash stored alongside a credential's prefix.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// GenerateKey creates a new raw credential value with the given prefix, plus
// its hash and the public prefix segment stored for lookup. The plaintext
// key is returned exactly once; only hash and prefix are persisted.
func GenerateKey(prefix string) (rawKey, hash, keyPrefix string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generating credential entropy: %w", err)
	}
	rawKey = prefix + hex.EncodeToString(buf)
	hash = HashKey(rawKey)
	keyPrefix = rawKey
	if len(keyPrefix) > 12 {
		keyPrefix = keyPrefix[:12]
	}
	return rawKey, hash, keyPrefix, nil
}

// Store resolves presented credentials against the relational store.
type Store struct {
	db store.DBTX
}

// NewStore creates a credential Store.
func NewStore(dbtx store.DBTX) *Store {
	return &Store{db: dbtx}
}

const credentialColumns = `id, tenant, name, key_prefix, key_hash, scopes, status,
	expires_at, allowed_ips, rate_burst_limit, rate_minute_limit, rate_hour_limit,
	rate_day_limit, use_count, last_used_at, last_used_ip, created_at`

func scanCredential(row interface {
	Scan(dest ...any) error
}) (Credential, error) {
	var c Credential
	var expiresAt, lastUsedAt *time.Time
	var lastUsedIP *string
	err := row.Scan(
		&c.ID, &c.Tenant, &c.Name, &c.KeyPrefix, &c.KeyHash, &c.Scopes, &c.Status,
		&expiresAt, &c.AllowedIPs, &c.RateLimit.BurstLimit, &c.RateLimit.MinuteLimit,
		&c.RateLimit.HourLimit, &c.RateLimit.DayLimit, &c.UseCount, &lastUsedAt,
		&lastUsedIP, &c.CreatedAt,
	)
	c.ExpiresAt = expiresAt
	c.LastUsedAt = lastUsedAt
	if lastUsedIP != nil {
		c.LastUsedIP = *lastUsedIP
	}
	return c, err
}

// Create persists a new credential and returns it.
func (s *Store) Create(ctx context.Context, c Credential) (Credential, error) {
	query := `INSERT INTO credentials (tenant, name, key_prefix, key_hash, scopes, status,
		expires_at, allowed_ips, rate_burst_limit, rate_minute_limit, rate_hour_limit, rate_day_limit)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING ` + credentialColumns
	row := s.db.QueryRow(ctx, query,
		c.Tenant, c.Name, c.KeyPrefix, c.KeyHash, c.Scopes, c.Status,
		c.ExpiresAt, c.AllowedIPs, c.RateLimit.BurstLimit, c.RateLimit.MinuteLimit,
		c.RateLimit.HourLimit, c.RateLimit.DayLimit,
	)
	return scanCredential(row)
}

// getByHash looks up a credential by its secure hash.
func (s *Store) getByHash(ctx context.Context, hash string) (Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE key_hash = $1`
	row := s.db.QueryRow(ctx, query, hash)
	return scanCredential(row)
}

// recordUsage updates use_count/last_used_at/last_used_ip. Called
// fire-and-forget; callers must not let its failure affect authentication.
func (s *Store) recordUsage(ctx context.Context, id uuid.UUID, ip string) error {
	query := `UPDATE credentials SET use_count = use_count + 1, last_used_at = now(), last_used_ip = $2 WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id, ip)
	return err
}

// Resolve implements the C1 contract: resolve(presented_token, client_ip,
// required_scopes) -> (tenant_context | failure_reason).
func (s *Store) Resolve(ctx context.Context, prefix, presentedToken, clientIP string, requiredScopes []string) (*TenantContext, FailureReason) {
	if presentedToken == "" || !strings.HasPrefix(presentedToken, prefix) {
		return nil, FailureMalformed
	}

	hash := HashKey(presentedToken)

	cred, err := s.getByHash(ctx, hash)
	if err != nil {
		return nil, FailureNotFound
	}

	// Defense in depth against a hash collision surfaced by the lookup: a
	// constant-time re-comparison of the computed hash.
	if subtle.ConstantTimeCompare([]byte(cred.KeyHash), []byte(hash)) != 1 {
		return nil, FailureHashMismatch
	}

	if cred.Status != StatusActive {
		return nil, FailureStatusNotActive
	}

	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(time.Now()) {
		return nil, FailureExpired
	}

	if len(cred.AllowedIPs) > 0 && !ipAllowed(clientIP, cred.AllowedIPs) {
		return nil, FailureIPNotAllowed
	}

	tc := &TenantContext{
		Tenant:       cred.Tenant,
		Scopes:       cred.Scopes,
		RateLimit:    cred.RateLimit,
		CredentialID: cred.ID,
		Principal:    cred.Name,
	}

	if len(requiredScopes) > 0 && !tc.HasScopes(requiredScopes...) {
		return nil, FailureScopesInsufficient
	}

	go func() {
		_ = s.recordUsage(context.Background(), cred.ID, clientIP)
	}()

	return tc, FailureNone
}

func ipAllowed(clientIP string, allowed []string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, a := range allowed {
		if strings.Contains(a, "/") {
			_, cidr, err := net.ParseCIDR(a)
			if err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if a == clientIP {
			return true
		}
	}
	return false
}
