package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Tracing fields, carried in the context through a call chain.
const (
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldCountry   = "country"
	FieldTrigger   = "trigger"
)

// Metric fields, attached per log line through Entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldAttempt    = "attempt"
	FieldStatus     = "status"
	FieldSize       = "size"
)
