package patrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
)

// fakeClassifier returns verdicts from a function; default echoes the item
// name as reason with low risk.
type fakeClassifier struct {
	mu    sync.Mutex
	calls []string
	fn    func(item catalog.Item) (domain.Verdict, error)
}

func (f *fakeClassifier) Classify(_ context.Context, item catalog.Item) (domain.Verdict, error) {
	f.mu.Lock()
	f.calls = append(f.calls, item.Name)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(item)
	}
	return domain.Verdict{RiskLevel: domain.RiskLow, Reason: item.Name}, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func makeItems(n int) []catalog.Item {
	items := make([]catalog.Item, n)
	for i := range items {
		items[i] = catalog.Item{Name: fmt.Sprintf("item-%02d", i)}
	}
	return items
}

func noSleep(context.Context, time.Duration) {}

func TestScheduler_OrderPreservedUnderStaggeredLatency(t *testing.T) {
	// later items in a batch finish first; output must still follow input order
	fc := &fakeClassifier{fn: func(item catalog.Item) (domain.Verdict, error) {
		var idx int
		fmt.Sscanf(item.Name, "item-%02d", &idx)
		time.Sleep(time.Duration(30-idx) * time.Millisecond)
		return domain.Verdict{RiskLevel: domain.RiskLow, Reason: item.Name}, nil
	}}
	s := &Scheduler{Classifier: fc, BatchSize: 5, Sleep: noSleep}

	items := makeItems(10)
	results := s.RunPage(context.Background(), items, false, nil)

	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, items[i].Name, r.Item.Name)
		assert.Equal(t, items[i].Name, r.Verdict.Reason)
	}
}

func TestScheduler_BatchPartitioning(t *testing.T) {
	fc := &fakeClassifier{}
	s := &Scheduler{Classifier: fc, BatchSize: 3, HighSpeedBatchSize: 15, Sleep: noSleep}

	var sizes []int
	results := s.RunPage(context.Background(), makeItems(8), false, func(batch []domain.Result) {
		sizes = append(sizes, len(batch))
	})

	assert.Len(t, results, 8)
	assert.Equal(t, []int{3, 3, 2}, sizes)

	// high speed uses the bigger batch size
	sizes = nil
	results = s.RunPage(context.Background(), makeItems(20), true, func(batch []domain.Result) {
		sizes = append(sizes, len(batch))
	})
	assert.Len(t, results, 20)
	assert.Equal(t, []int{15, 5}, sizes)
}

func TestScheduler_CancelledBeforeStart(t *testing.T) {
	fc := &fakeClassifier{}
	s := &Scheduler{Classifier: fc, BatchSize: 3, Sleep: noSleep}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := s.RunPage(ctx, makeItems(9), false, nil)
	assert.Empty(t, results)
	assert.Zero(t, fc.callCount())
}

func TestScheduler_CancelMidBatchFinishesBatchBlocksNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// first classified item cancels the run; its own batch must still come
	// back complete, the following batch must not start
	fc := &fakeClassifier{}
	fc.fn = func(item catalog.Item) (domain.Verdict, error) {
		cancel()
		return domain.Verdict{RiskLevel: domain.RiskMedium, Reason: item.Name}, nil
	}
	s := &Scheduler{Classifier: fc, BatchSize: 3, Sleep: noSleep}

	results := s.RunPage(ctx, makeItems(9), false, nil)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("item-%02d", i), r.Item.Name)
		assert.Equal(t, domain.RiskMedium, r.Verdict.RiskLevel)
	}
	assert.Equal(t, 3, fc.callCount())
}

func TestScheduler_EmptyNameGetsLocalVerdict(t *testing.T) {
	fc := &fakeClassifier{}
	s := &Scheduler{Classifier: fc, BatchSize: 3, Sleep: noSleep}

	items := []catalog.Item{
		{Name: "正規品 ぬいぐるみ"},
		{Name: "   "},
		{Name: ""},
	}
	results := s.RunPage(context.Background(), items, false, nil)

	require.Len(t, results, 3)
	assert.Equal(t, domain.Verdict{RiskLevel: domain.RiskLow, Reason: "-"}, results[1].Verdict)
	assert.Equal(t, domain.Verdict{RiskLevel: domain.RiskLow, Reason: "-"}, results[2].Verdict)

	// the classifier only ever saw the named item
	assert.Equal(t, []string{"正規品 ぬいぐるみ"}, fc.calls)
}

func TestScheduler_ClassifierErrorDegradesToErrorVerdict(t *testing.T) {
	fc := &fakeClassifier{fn: func(item catalog.Item) (domain.Verdict, error) {
		if strings.HasSuffix(item.Name, "01") {
			return domain.Verdict{}, errors.New("connection reset")
		}
		return domain.Verdict{RiskLevel: domain.RiskLow}, nil
	}}
	s := &Scheduler{Classifier: fc, BatchSize: 3, Sleep: noSleep}

	results := s.RunPage(context.Background(), makeItems(3), false, nil)

	require.Len(t, results, 3)
	assert.Equal(t, domain.RiskLow, results[0].Verdict.RiskLevel)
	assert.Equal(t, domain.RiskError, results[1].Verdict.RiskLevel)
	assert.Equal(t, "connection reset", results[1].Verdict.Reason)
	assert.Equal(t, domain.RiskLow, results[2].Verdict.RiskLevel)
}

func TestScheduler_NormalizesClassifierOutput(t *testing.T) {
	fc := &fakeClassifier{fn: func(catalog.Item) (domain.Verdict, error) {
		// classifier claims critical on a medium verdict
		return domain.Verdict{RiskLevel: domain.RiskMedium, IsCritical: true}, nil
	}}
	s := &Scheduler{Classifier: fc, BatchSize: 3, Sleep: noSleep}

	results := s.RunPage(context.Background(), makeItems(1), false, nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Verdict.IsCritical)
}
