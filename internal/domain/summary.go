package domain

// PoolSummary counts simulators by allocation status and state
type PoolSummary struct {
	Type          string        `json:"type"`          // Always "pool_summary"
	SchemaVersion int           `json:"schemaVersion"` // Schema version for compatibility
	Total         int           `json:"total"`
	Allocated     int           `json:"allocated"`
	Unallocated   int           `json:"unallocated"`
	Launched      int           `json:"launched"`
	States        map[State]int `json:"states"`
}

// NewPoolSummary creates a new empty summary
func NewPoolSummary() *PoolSummary {
	return &PoolSummary{
		Type:   "pool_summary",
		States: make(map[State]int),
	}
}

// ErrorOutput represents an error in NDJSON format
type ErrorOutput struct {
	Type          string `json:"type"`           // Always "error"
	SchemaVersion int    `json:"schemaVersion"`  // Schema version for compatibility
	Code          string `json:"code"`           // Machine-readable error code
	Message       string `json:"message"`        // Human-readable message
	Hint          string `json:"hint,omitempty"` // Suggested next step
}

// NewErrorOutput creates a new error output
// Note: SchemaVersion should be set by the caller (output package)
func NewErrorOutput(code, message string) *ErrorOutput {
	return &ErrorOutput{
		Type:    "error",
		Code:    code,
		Message: message,
	}
}
