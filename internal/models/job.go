package models

import (
	"time"
)

// Job status values recorded in broker metadata and reported by the status API.
const (
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusRetrying   = "retrying"
	StatusSucceeded  = "succeeded"
	StatusSkipped    = "skipped"
	StatusDeadLetter = "dead_lettered"
)

// Job is one compression unit of work. Path is the idempotency key.
type Job struct {
	Path         string    `json:"path"`
	DiscoveredAt time.Time `json:"discovered_at"`
	// Size is the size reported by the closure event, -1 when unknown.
	Size       int64     `json:"size"`
	Attempts   int       `json:"attempts"`
	LeaseToken string    `json:"lease_token,omitempty"`
	Status     string    `json:"status,omitempty"`
	LastError  *string   `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// LeaseRecord is the value stored under a lease key.
type LeaseRecord struct {
	Owner      string    `json:"owner"`
	Node       string    `json:"node"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}
