package log

const (
	FieldKeyPrefix = "prefix"
	FieldKeyTask   = "task"
	FieldKeyRunID  = "run-id"
)

// Fields type, used to pass to `WithFields`.
type Fields map[string]any
