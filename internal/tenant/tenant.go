// Package tenant carries the resolved tenant identity through a request.
// Tenancy here is a row-level partition-key column stored alongside every
// record, not a Postgres schema — there is no schema-per-tenant switching.
package tenant

import (
	"context"
	"regexp"
	"strings"
)

// Info holds the tenant identity resolved for the current request.
type Info struct {
	ID string
}

type contextKey string

const infoKey contextKey = "tenant_info"

// NewContext stores tenant info in ctx.
func NewContext(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, infoKey, info)
}

// FromContext extracts the tenant info from ctx, or nil if unset.
func FromContext(ctx context.Context) *Info {
	v, _ := ctx.Value(infoKey).(*Info)
	return v
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases id and replaces every run of non-alphanumeric
// characters with a single underscore. This is lossy by design and MUST NOT
// be reversed to recover a display name outside of logging.
func Normalize(id string) string {
	lower := strings.ToLower(id)
	return strings.Trim(nonAlnum.ReplaceAllString(lower, "_"), "_")
}

// SessionName builds the session key "<topic>_<normalized-tenant>" used by
// the durable queue for FIFO topics.
func SessionName(topic, tenantID string) string {
	return topic + "_" + Normalize(tenantID)
}
