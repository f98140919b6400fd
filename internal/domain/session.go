package domain

import "time"

// SessionStatus is the persisted lifecycle status of a calibration session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionFinished SessionStatus = "finished"
	SessionAborted  SessionStatus = "aborted"
	SessionFailed   SessionStatus = "failed"
)

// Session is the persisted record of one run over a catalog.
type Session struct {
	ID              string        `json:"id"`
	CatalogPath     string        `json:"catalog_path"`
	OutputPath      string        `json:"output_path"`
	StartIndex      int           `json:"start_index"`
	TotalTrials     int           `json:"total_trials"`
	CompletedTrials int           `json:"completed_trials"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TrialResult records a trial whose captures were flushed to the output file.
// CatalogIndex is the row position in the catalog (header excluded), so a
// later session can resume after it.
type TrialResult struct {
	SessionID    string    `json:"session_id"`
	CatalogIndex int       `json:"catalog_index"`
	TrialID      int       `json:"trial_id"`
	Records      int       `json:"records"`
	FlushedAt    time.Time `json:"flushed_at"`
}
