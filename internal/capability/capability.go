// Package capability implements the capability URL issuer (C4): minting
// time-limited, scoped URLs to an object store for a derived blob path, and
// tracking lifecycle state per upload.
package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/objectstore"
	"github.com/richtunnel/partnerstestapi/internal/store"
	"github.com/richtunnel/partnerstestapi/internal/telemetry"
	"github.com/richtunnel/partnerstestapi/internal/tenant"
)

// UploadTTL is how long an issued upload URL remains valid.
const UploadTTL = 24 * time.Hour

// Status is the lifecycle state of a CapabilityDescriptor.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Descriptor is the persisted record tracking one issued capability URL.
type Descriptor struct {
	CorrelationID uuid.UUID
	Tenant        string
	BlobPath      string
	ContentType   string
	ExpiresAt     time.Time
	Status        Status
	FileSize      *int64
	Error         *string
	CreatedAt     time.Time
}

var nonBlobPathChar = regexp.MustCompile(`[^A-Za-z0-9.\-]`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// sanitizeFilename applies the §3 sanitization recipe: characters outside
// [A-Za-z0-9.-] become '_', runs of '_' collapse to one, the result is
// lowercased.
func sanitizeFilename(filename string) string {
	s := nonBlobPathChar.ReplaceAllString(filename, "_")
	s = repeatedUnderscore.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}

// BlobPath computes the deterministic path for a newly issued upload:
// "<norm-tenant>/<yyyy-mm-dd>/<correlation_id>_<sanitized-filename>".
func BlobPath(tenantID string, correlationID uuid.UUID, filename string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s",
		tenant.Normalize(tenantID),
		at.UTC().Format("2006-01-02"),
		correlationID,
		sanitizeFilename(filename),
	)
}

// Issuer mints capability URLs and tracks their lifecycle.
type Issuer struct {
	objects objectstore.Store
	db      store.DBTX
}

// New creates an Issuer.
func New(objects objectstore.Store, dbtx store.DBTX) *Issuer {
	return &Issuer{objects: objects, db: dbtx}
}

// UploadResult is returned by IssueUpload.
type UploadResult struct {
	UploadURL     string
	BlobPath      string
	CorrelationID uuid.UUID
	ExpiresAt     time.Time
}

// IssueUpload implements issue_upload(tenant, filename, content_type) ->
// {upload_url, blob_path, correlation_id, expires_at}. It takes no
// demographic id and records no per-upload size limit; the size limit is
// applied later by ValidateUploaded.
func (i *Issuer) IssueUpload(ctx context.Context, tenantID, filename, contentType string) (UploadResult, error) {
	correlationID := uuid.New()
	now := time.Now()
	expiresAt := now.Add(UploadTTL)
	blobPath := BlobPath(tenantID, correlationID, filename, now)

	uploadURL, err := i.objects.IssueUploadURL(ctx, blobPath, contentType, expiresAt)
	if err != nil {
		return UploadResult{}, fmt.Errorf("issuing upload url: %w", err)
	}

	query := `INSERT INTO capability_descriptors
		(correlation_id, tenant, blob_path, content_type, expires_at, status)
		VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := i.db.Exec(ctx, query, correlationID, tenantID, blobPath, contentType, expiresAt, StatusPending); err != nil {
		return UploadResult{}, fmt.Errorf("recording capability descriptor: %w", err)
	}

	telemetry.CapabilityURLsIssuedTotal.Inc()

	return UploadResult{
		UploadURL:     uploadURL,
		BlobPath:      blobPath,
		CorrelationID: correlationID,
		ExpiresAt:     expiresAt,
	}, nil
}

// IssueDownload implements issue_download(blob_path, ttl) -> url.
func (i *Issuer) IssueDownload(ctx context.Context, blobPath string, ttl time.Duration) (string, error) {
	return i.objects.IssueDownloadURL(ctx, blobPath, ttl)
}

// ValidationResult is returned by ValidateUploaded.
type ValidationResult struct {
	Valid    bool
	FileSize int64
	Error    string
}

// ValidateUploaded implements validate_uploaded(blob_path, max_size_mb) ->
// {valid, file_size?, error?}. Over-limit files are reported with the
// distinguished "too-large" error and the size in MB to two decimals.
func (i *Issuer) ValidateUploaded(ctx context.Context, blobPath string, maxSizeMB float64) (ValidationResult, error) {
	size, err := i.objects.Stat(ctx, blobPath)
	if err != nil {
		return ValidationResult{}, err
	}

	sizeMB := roundTo2(float64(size) / (1024 * 1024))
	limitBytes := int64(maxSizeMB * 1024 * 1024)
	if size > limitBytes {
		return ValidationResult{Valid: false, FileSize: size, Error: fmt.Sprintf("too-large: %.2f MB exceeds limit of %.2f MB", sizeMB, maxSizeMB)}, nil
	}

	return ValidationResult{Valid: true, FileSize: size}, nil
}

func roundTo2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

// GetStatus implements get_status(correlation_id) -> CapabilityDescriptor.
func (i *Issuer) GetStatus(ctx context.Context, correlationID uuid.UUID) (Descriptor, error) {
	var d Descriptor
	query := `SELECT correlation_id, tenant, blob_path, content_type, expires_at, status, file_size, error, created_at
		FROM capability_descriptors WHERE correlation_id = $1`
	err := i.db.QueryRow(ctx, query, correlationID).Scan(
		&d.CorrelationID, &d.Tenant, &d.BlobPath, &d.ContentType, &d.ExpiresAt,
		&d.Status, &d.FileSize, &d.Error, &d.CreatedAt,
	)
	return d, err
}

// UpdateStatus implements update_status(correlation_id, fields).
func (i *Issuer) UpdateStatus(ctx context.Context, correlationID uuid.UUID, status Status, fileSize *int64, errMsg *string) error {
	query := `UPDATE capability_descriptors SET status = $2, file_size = $3, error = $4 WHERE correlation_id = $1`
	_, err := i.db.Exec(ctx, query, correlationID, status, fileSize, errMsg)
	return err
}
