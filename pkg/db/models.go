package db

import "time"

// InvocationRecord represents a row in the invocation_journal table.
type InvocationRecord struct {
	ID         string    `json:"id"`
	ServiceID  string    `json:"service_id"`
	Method     string    `json:"method"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Code       *string   `json:"code,omitempty"`
	Host       *string   `json:"host,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Started    time.Time `json:"started"`
	DurationMs float64   `json:"duration_ms"`
	Created    time.Time `json:"created"`
}

// ListInvocationsParams filters ListInvocations. Zero values match all.
type ListInvocationsParams struct {
	ServiceID string
	Method    string
	Status    string
	Since     time.Time
	Limit     int
	Offset    int
}

// JournalStats summarizes the journal per status.
type JournalStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}
