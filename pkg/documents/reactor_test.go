package documents

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/richtunnel/partnerstestapi/internal/capability"
)

func TestParseBlobPathRoundTrip(t *testing.T) {
	id := uuid.New()
	path := capability.BlobPath("Acme Corp", id, "report final.pdf", time.Now())

	tenant, gotID, ok := parseBlobPath(path)
	if !ok {
		t.Fatalf("parseBlobPath(%q) ok = false, want true", path)
	}
	if tenant != "acme_corp" {
		t.Errorf("tenant = %q, want %q", tenant, "acme_corp")
	}
	if gotID != id {
		t.Errorf("correlation id = %s, want %s", gotID, id)
	}
}

func TestParseBlobPathRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"one-segment",
		"tenant/only-two-segments",
		"tenant/2026-01-01/not-a-uuid_file.pdf",
	}

	for _, in := range tests {
		if _, _, ok := parseBlobPath(in); ok {
			t.Errorf("parseBlobPath(%q) ok = true, want false", in)
		}
	}
}
