package models

import "time"

// SystemMetrics is a point-in-time snapshot of service counters.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DraftsCompleted          uint64    `json:"drafts_completed"`
	DraftsFailed             uint64    `json:"drafts_failed"`
	AverageDraftAttempts     float64   `json:"average_draft_attempts"`
	LLMCalls                 uint64    `json:"llm_calls"`
	LLMErrors                uint64    `json:"llm_errors"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
