package domain

import (
	"encoding"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusError     TaskStatus = "ERROR"
)

// Terminal reports whether s admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Task is the lifecycle record for one submitted circuit. The store is the
// sole source of truth for status, result and error; queue bookkeeping
// (attempts, leases) lives outside this struct.
type Task struct {
	ID      string     `json:"id"`
	Status  TaskStatus `json:"status"`
	Circuit string     `json:"circuit"` // QASM3 source, opaque to this service
	Shots   int        `json:"shots"`
	// Result maps a measurement outcome label to its occurrence count.
	// Non-nil iff Status == COMPLETED.
	Result map[string]int `json:"result,omitempty"`
	// Error holds the captured failure description. Non-empty iff Status == ERROR.
	Error string `json:"error,omitempty"`
	// TraceParent/TraceState carry W3C trace context from submission so the
	// worker can correlate execution spans with the originating request.
	TraceParent string    `json:"traceParent,omitempty"`
	TraceState  string    `json:"traceState,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

var (
	_ encoding.BinaryMarshaler = TaskStatus("")
	_ encoding.TextMarshaler   = TaskStatus("")
)

func (s TaskStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s TaskStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
