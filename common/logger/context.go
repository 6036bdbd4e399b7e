package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Fields flow through context enrichment so that business context
// (tenant_id, domain, provider, etc.) shows up on every log statement without
// being threaded by hand.
type LogFields struct {
	TenantID        *string // Tenant (company) ID
	Domain          *string // Sending domain
	Provider        *string // Transport provider name (e.g., "resend", "postmark")
	ProviderEventID *string // Provider's webhook event ID
	EventType       *string // Event type (e.g., "email.bounced")
	Component       string  // Component name (e.g., "sendguard.service.deliverability")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.TenantID != nil {
		result.TenantID = next.TenantID
	}
	if next.Domain != nil {
		result.Domain = next.Domain
	}
	if next.Provider != nil {
		result.Provider = next.Provider
	}
	if next.ProviderEventID != nil {
		result.ProviderEventID = next.ProviderEventID
	}
	if next.EventType != nil {
		result.EventType = next.EventType
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{Domain: logger.Ptr(d)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like webhook payloads.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
