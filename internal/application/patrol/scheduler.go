package patrol

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
)

// Scheduler memotong satu halaman item menjadi batch berukuran tetap dan
// menjalankan klasifikasi tiap batch secara paralel. Output selalu mengikuti
// urutan input, bukan urutan selesainya call.
type Scheduler struct {
	Classifier         domain.Classifier
	BatchSize          int // default 3
	HighSpeedBatchSize int // default 15
	BatchWait          time.Duration

	// Sleep injectable untuk test; nil berarti sleepContext.
	Sleep func(ctx context.Context, d time.Duration)
}

// RunPage classifies items batch per batch. Cancellation is polled only
// before a new batch starts; a batch that is already in flight always runs to
// completion, so cancelling mid-batch never truncates that batch's results.
// onBatch (optional) runs after each finished batch with that batch's results,
// in order.
func (s *Scheduler) RunPage(ctx context.Context, items []catalog.Item, highSpeed bool, onBatch func(batch []domain.Result)) []domain.Result {
	size := s.BatchSize
	wait := s.BatchWait
	if highSpeed {
		size = s.HighSpeedBatchSize
		wait = 0
	}
	if size <= 0 {
		size = 3
	}

	out := make([]domain.Result, 0, len(items))
	for start := 0; start < len(items); start += size {
		// poll point: sebelum mulai batch baru
		if ctx.Err() != nil {
			break
		}
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		// Calls inside the batch must finish even if the run gets cancelled;
		// the per-call timeout inside the classifier bounds them.
		callCtx := context.WithoutCancel(ctx)

		slots := make([]domain.Result, len(batch))
		var wg sync.WaitGroup
		for i, it := range batch {
			wg.Add(1)
			go func(i int, it catalog.Item) {
				defer wg.Done()
				slots[i] = domain.Result{Item: it, Verdict: s.classifyOne(callCtx, it)}
			}(i, it)
		}
		wg.Wait()

		out = append(out, slots...)
		if onBatch != nil {
			onBatch(slots)
		}
		if wait > 0 && ctx.Err() == nil {
			s.sleep(ctx, wait)
		}
	}
	return out
}

func (s *Scheduler) classifyOne(ctx context.Context, it catalog.Item) domain.Verdict {
	// baris tanpa nama: verdict lokal, jangan buang kuota classifier
	if strings.TrimSpace(it.Name) == "" {
		return domain.Verdict{RiskLevel: domain.RiskLow, Reason: "-"}
	}
	v, err := s.Classifier.Classify(ctx, it)
	if err != nil {
		return domain.Verdict{RiskLevel: domain.RiskError, Reason: err.Error()}
	}
	return v.Normalize()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(ctx, d)
		return
	}
	sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
