package models

import (
	"fmt"
	"time"
)

// LedgerStatus is the ingestion state of one document.
type LedgerStatus string

const (
	StatusPending LedgerStatus = "pending"
	StatusDone    LedgerStatus = "done"
	StatusFailed  LedgerStatus = "failed"
)

// ParseLedgerStatus returns the status named by s.
func ParseLedgerStatus(s string) (LedgerStatus, error) {
	switch st := LedgerStatus(s); st {
	case StatusPending, StatusDone, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown ledger status %q", s)
}

// LedgerKey identifies one ledger record.
type LedgerKey struct {
	Source     Source `json:"source"`
	Date       Day    `json:"date"`
	ExternalID string `json:"external_id"`
}

// String implements fmt.Stringer.
func (k LedgerKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Source, k.Date, k.ExternalID)
}

// LedgerRecord is the durable ingestion state of one document.
type LedgerRecord struct {
	LedgerKey
	Status        LedgerStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	ChunkCount    int          `json:"chunk_count"`
	LastError     string       `json:"last_error,omitempty"`
	LastAttemptAt time.Time    `json:"last_attempt_at"`
	CreatedAt     time.Time    `json:"created_at"`
}

// LedgerFilter selects ledger records for inspection. Zero fields match everything.
type LedgerFilter struct {
	Since    Day            `json:"since,omitempty"`
	Source   Source         `json:"source,omitempty"`
	Statuses []LedgerStatus `json:"statuses,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}
