package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields carried on a context-scoped logger.
const (
	FieldRequestID   = "request_id"
	FieldOperationID = "operation_id"
	FieldArea        = "area"
	FieldIndex       = "index"
	FieldComponent   = "component"
	FieldCommand     = "command"
)

// Metric fields attached per entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldTier       = "tier"
)
