// Package documents implements the document-upload HTTP operations: issuing
// capability URLs (single and batch) and reporting upload status. The
// capability lifecycle itself lives in internal/capability; this package is
// the HTTP-facing adapter plus the blob-event reactor.
package documents

import (
	"time"

	"github.com/google/uuid"
)

// UploadURLRequest is the JSON body for POST /documents/upload-url.
type UploadURLRequest struct {
	FileName       string  `json:"fileName" validate:"required"`
	ContentType    string  `json:"contentType" validate:"required"`
	MaxFileSizeMB  float64 `json:"maxFileSizeMB" validate:"required,gt=0,lte=100"`
	DemographicID  string  `json:"demographicId,omitempty" validate:"omitempty,uuid"`
}

// UploadURLResponse is the JSON body returned by POST /documents/upload-url.
type UploadURLResponse struct {
	UploadURL     string    `json:"uploadUrl"`
	BlobName      string    `json:"blobName"`
	CorrelationID uuid.UUID `json:"correlationId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// BatchUploadURLsRequest is the JSON body for POST /documents/batch-upload-urls.
type BatchUploadURLsRequest struct {
	Documents []UploadURLRequest `json:"documents" validate:"required,min=1,max=50,dive"`
}

// BatchUploadURLItem is one item of the batch response — either a
// successful issuance or an error, never both.
type BatchUploadURLItem struct {
	Index  int                 `json:"index"`
	Result *UploadURLResponse  `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// StatusResponse is the JSON body returned by GET /documents/{correlationId}/status.
type StatusResponse struct {
	Status   string  `json:"status"`
	FileSize *int64  `json:"file_size,omitempty"`
	Error    *string `json:"error,omitempty"`
}
