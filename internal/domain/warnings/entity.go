package warnings

import "time"

// PatrolWarning represents a persisted non-fatal problem from a patrol run:
// a bulk file that failed to parse, a catalog fetch that aborted the run, etc.
type PatrolWarning struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id"`
	Source    string    `json:"source,omitempty"` // file name atau shop URL
	Phase     string    `json:"phase,omitempty"`  // parse | fetch | persist | report
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
