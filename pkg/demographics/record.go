// Package demographics implements the Submission Record model and the
// demographics HTTP operations (C6).
package demographics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Record is a Submission Record: an opaque domain payload plus the
// envelope fields every submission carries.
type Record struct {
	ID        uuid.UUID
	Tenant    string
	Payload   json.RawMessage
	Status    Status
	CreatedBy *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateRequest is the JSON body for POST /demographics.
type CreateRequest struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// UpdateRequest is the JSON body for PUT /demographics/{id}. A partial
// payload replaces the stored payload wholesale — there is no field-level
// merge, matching the opaque-payload model.
type UpdateRequest struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// BatchOptions controls batch-create behavior.
type BatchOptions struct {
	NotifyOnCompletion bool `json:"notify_on_completion"`
}

// BatchCreateRequest is the JSON body for POST /demographics/batch.
type BatchCreateRequest struct {
	Records      []CreateRequest `json:"records" validate:"required,min=1,max=100,dive"`
	BatchOptions *BatchOptions   `json:"batch_options"`
	WebhookURL   string          `json:"webhook_url" validate:"omitempty,url"`
}

// BatchItemResult is a single item's outcome within a batch response.
type BatchItemResult struct {
	Index  int        `json:"index"`
	ID     *uuid.UUID `json:"id,omitempty"`
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// BatchMetadata summarizes a batch response's outcomes.
type BatchMetadata struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BatchResponse is the JSON body returned by POST /demographics/batch.
type BatchResponse struct {
	Results  []BatchItemResult `json:"results"`
	Metadata BatchMetadata     `json:"metadata"`
}

// DeleteResponse is the JSON body returned by DELETE /demographics/{id}.
type DeleteResponse struct {
	ID        uuid.UUID `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ListFilters holds the optional query parameters accepted by GET /demographics.
type ListFilters struct {
	Status string
	Search string
}

// CreateResponse is the JSON body returned by POST /demographics.
type CreateResponse struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Response is the JSON shape of a single demographics record.
type Response struct {
	ID        uuid.UUID       `json:"id"`
	Tenant    string          `json:"tenant"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	CreatedBy *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ToResponse converts a Record to its public DTO.
func (r Record) ToResponse() Response {
	return Response{
		ID:        r.ID,
		Tenant:    r.Tenant,
		Payload:   r.Payload,
		Status:    r.Status,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
