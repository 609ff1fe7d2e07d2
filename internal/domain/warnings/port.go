package warnings

import (
	"context"
)

// Repository defines persistence for patrol warnings
type Repository interface {
	Save(ctx context.Context, w *PatrolWarning) error
	ListBySession(ctx context.Context, tenant string, sessionID string, limit int) ([]*PatrolWarning, error)
}
