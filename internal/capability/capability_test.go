package capability

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "report.pdf", "report.pdf"},
		{"spaces", "my report.PDF", "my_report.pdf"},
		{"special chars", "claim#42 (final)!.pdf", "claim_42_final_.pdf"},
		{"collapses underscores", "a   b.txt", "a_b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFilename(tt.in); got != tt.want {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBlobPath(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	got := BlobPath("Acme Corp", id, "Report Final.pdf", at)
	want := fmt.Sprintf("acme_corp/2026-03-15/%s_report_final.pdf", id)

	if got != want {
		t.Errorf("BlobPath() = %q, want %q", got, want)
	}
}

func TestBlobPathRoundTripsUUIDPrefix(t *testing.T) {
	id := uuid.New()
	path := BlobPath("tenant-1", id, "x.pdf", time.Now())

	parts := strings.SplitN(path, "/", 3)
	if len(parts) != 3 {
		t.Fatalf("BlobPath() produced %d segments, want 3", len(parts))
	}
	last := parts[2]
	if len(last) < 36 || last[:36] != id.String() {
		t.Errorf("last segment %q does not start with correlation id %s", last, id)
	}
}

func TestRoundTo2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.125, 0.13},
		{1.004, 1.0},
		{2.0, 2.0},
		{0.333333, 0.33},
	}

	for _, tt := range tests {
		if got := roundTo2(tt.in); got != tt.want {
			t.Errorf("roundTo2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
