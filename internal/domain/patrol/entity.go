package patrol

import (
	"time"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
)

// ID tipe untuk Session
type SessionID string

// Kind enum: jenis patroli
type Kind string

const (
	KindURL  Kind = "url"  // remote catalog, dipaginasi
	KindFile Kind = "file" // bulk file, satu halaman besar
)

// Status enum
type Status string

const (
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusAborted    Status = "aborted"
	StatusCompleted  Status = "completed"
)

// RiskLevel enum hasil klasifikasi
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
	RiskError  RiskLevel = "error"
)

// Verdict adalah output classifier untuk satu item, dinormalisasi di
// boundary classifier. Invariant: IsCritical == true hanya jika RiskHigh.
type Verdict struct {
	RiskLevel  RiskLevel `json:"risk_level"`
	IsCritical bool      `json:"is_critical"`
	Reason     string    `json:"reason"`
}

// Normalize enforces the critical-implies-high invariant. The source system
// let risk/risk_level and isCritical/is_critical float around loosely typed;
// nothing past this point may see that ambiguity.
func (v Verdict) Normalize() Verdict {
	switch v.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskError:
	default:
		v.RiskLevel = RiskError
	}
	if v.RiskLevel != RiskHigh {
		v.IsCritical = false
	}
	return v
}

// Result satu item plus verdict-nya. Dibuat sekali, tidak pernah dimutasi.
type Result struct {
	Item    catalog.Item `json:"item"`
	Verdict Verdict      `json:"verdict"`
}

// Summary value object, selalu diturunkan ulang dari Results
type Summary struct {
	Total    int `json:"total"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Critical int `json:"critical"`
}

// Aggregate Root: Session (satu patrol run)
type Session struct {
	ID        SessionID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Kind      Kind      `json:"kind"`
	Target    string    `json:"target"`
	ShopName  string    `json:"shop_name,omitempty"`
	Status    Status    `json:"status"`
	Cursor    int       `json:"cursor"` // last fully processed page (url) / item offset (file)
	Results   []Result  `json:"results"`
	Summary   Summary   `json:"summary"`
	ReportURL string    `json:"report_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds page/batch results and recomputes the summary.
func (s *Session) Append(results ...Result) {
	s.Results = append(s.Results, results...)
	s.Summary = ComputeSummary(s.Results)
}

// ComputeSummary scans the whole results sequence. O(n) per persist is
// accepted; persists happen per page/batch, not per item, and a full rescan
// keeps the counters auditable.
func ComputeSummary(results []Result) Summary {
	sum := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Verdict.RiskLevel {
		case RiskHigh:
			sum.High++
		case RiskMedium:
			sum.Medium++
		}
		if r.Verdict.IsCritical {
			sum.Critical++
		}
	}
	return sum
}

// CanTransition reports whether moving dari -> ke is legal. Transitions are
// monotonic except operator resume (paused/aborted -> processing).
func CanTransition(from, to Status) bool {
	switch from {
	case StatusProcessing:
		return to == StatusPaused || to == StatusAborted || to == StatusCompleted || to == StatusProcessing
	case StatusPaused, StatusAborted:
		return to == StatusProcessing
	case StatusCompleted:
		return false
	}
	return false
}

// Resumable: hanya sesi url yang punya cursor halaman persisten.
func (s *Session) Resumable() bool {
	return s.Kind == KindURL && (s.Status == StatusPaused || s.Status == StatusAborted)
}
