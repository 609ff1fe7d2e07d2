package patrol

import (
	"context"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
)

// Repository port (interface untuk persistence sesi)
type Repository interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, tenant string, id SessionID) (*Session, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*Session, error)
	Summary(ctx context.Context, tenant string, sinceDays int) (int, int, int, int, error)
	Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (PaginatedResult, error)
}

// Classifier port (interface untuk risk assessment satu item).
// Kegagalan klasifikasi adalah data, bukan control flow: implementasi
// mengubah rate-limit exhaustion, timeout dan response rusak menjadi
// Verdict{RiskLevel: error} supaya pipeline tetap jalan. Error non-nil hanya
// untuk pembatalan context milik run itu sendiri.
type Classifier interface {
	Classify(ctx context.Context, item catalog.Item) (Verdict, error)
}

// ReportStore port (interface untuk ekspor laporan CSV)
type ReportStore interface {
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}

// Progress snapshot untuk live display.
type Progress struct {
	SessionID      SessionID `json:"session_id"`
	Status         Status    `json:"status"`
	ProcessedCount int       `json:"processed_count"`
	TargetCount    int       `json:"target_count"`
}

// ProgressSink menerima progress events setelah tiap batch/halaman.
type ProgressSink interface {
	Publish(p Progress)
}
