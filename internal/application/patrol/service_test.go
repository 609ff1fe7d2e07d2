package patrol

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
	"github.com/ryotask/ecpatrol/internal/domain/warnings"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// memRepo keeps session snapshots in memory. Save stores a copy so the test
// never observes the run goroutine's in-flight mutations.
type memRepo struct {
	mu   sync.Mutex
	rows map[domain.SessionID]domain.Session
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[domain.SessionID]domain.Session)}
}

func (r *memRepo) Save(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Results = append([]domain.Result(nil), s.Results...)
	r.rows[s.ID] = cp
	return nil
}

func (r *memRepo) Get(_ context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.TenantID != tenant {
		return nil, domain.ErrSessionNotFound
	}
	cp := s
	cp.Results = append([]domain.Result(nil), s.Results...)
	return &cp, nil
}

func (r *memRepo) Latest(_ context.Context, tenant string, limit int) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.rows {
		if s.TenantID == tenant {
			cp := s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) Summary(context.Context, string, int) (int, int, int, int, error) {
	return 0, 0, 0, 0, nil
}

func (r *memRepo) Paginate(context.Context, string, int, int, map[string]interface{}) (domain.PaginatedResult, error) {
	return domain.PaginatedResult{}, nil
}

type memWarnings struct {
	mu   sync.Mutex
	rows []*warnings.PatrolWarning
}

func (w *memWarnings) Save(_ context.Context, pw *warnings.PatrolWarning) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, pw)
	return nil
}

func (w *memWarnings) ListBySession(_ context.Context, tenant, sessionID string, _ int) ([]*warnings.PatrolWarning, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*warnings.PatrolWarning
	for _, pw := range w.rows {
		if pw.TenantID == tenant && pw.SessionID == sessionID {
			out = append(out, pw)
		}
	}
	return out, nil
}

func (w *memWarnings) phases() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, pw := range w.rows {
		out = append(out, pw.Phase)
	}
	return out
}

// fakeSource serves scripted pages and records requested cursors.
type fakeSource struct {
	mu      sync.Mutex
	pages   map[int]catalog.Page
	errOn   map[int]error
	cursors []int
}

func (f *fakeSource) NextPage(_ context.Context, cursor int) (catalog.Page, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	f.mu.Unlock()
	if err := f.errOn[cursor]; err != nil {
		return catalog.Page{}, err
	}
	return f.pages[cursor], nil
}

func (f *fakeSource) requested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.cursors...)
}

type fakeFactory struct {
	src      *fakeSource
	maxItems int
}

func (f *fakeFactory) ForShop(_ string, maxItems int) (catalog.ItemSource, error) {
	f.maxItems = maxItems
	return f.src, nil
}

type fakeReports struct {
	mu   sync.Mutex
	key  string
	body []byte
}

func (f *fakeReports) UploadAndCleanup(_ context.Context, localPath, key string) (string, error) {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.key = key
	f.body = body
	f.mu.Unlock()
	os.Remove(localPath)
	return "http://reports.local/" + key, nil
}

func pageOf(n, offset int, hasMore bool) catalog.Page {
	items := make([]catalog.Item, n)
	for i := range items {
		items[i] = catalog.Item{Name: fmt.Sprintf("item-%03d", offset+i), ShopName: "テスト店"}
	}
	return catalog.Page{Items: items, HasMore: hasMore}
}

func newTestService(src *fakeSource) (*Service, *memRepo, *memWarnings) {
	repo := newMemRepo()
	warn := &memWarnings{}
	svc := &Service{
		Sessions: repo,
		Warnings: warn,
		Sources:  &fakeFactory{src: src},
		Sched: &Scheduler{
			Classifier: &fakeClassifier{},
			BatchSize:  3,
			Sleep:      noSleep,
		},
		Clock:         fixedClock{t: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)},
		PageSize:      30,
		PageWait:      time.Millisecond,
		FullScanLimit: 3000,
	}
	return svc, repo, warn
}

func waitForStatus(t *testing.T, repo *memRepo, tenant string, id domain.SessionID, want domain.Status) domain.Session {
	t.Helper()
	var got domain.Session
	require.Eventually(t, func() bool {
		s, err := repo.Get(context.Background(), tenant, id)
		if err != nil {
			return false
		}
		got = *s
		return s.Status == want
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s", want)
	return got
}

func TestService_StartSinglePageRunCompletes(t *testing.T) {
	src := &fakeSource{pages: map[int]catalog.Page{1: pageOf(30, 0, true)}}
	svc, repo, _ := newTestService(src)

	sess, err := svc.Start(context.Background(), StartPatrolCommand{
		TenantID:    "acme",
		ShopURL:     "https://www.rakuten.co.jp/test-shop/",
		TargetCount: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, sess.Status)

	final := waitForStatus(t, repo, "acme", sess.ID, domain.StatusCompleted)
	assert.Equal(t, 30, final.Summary.Total)
	assert.Equal(t, 1, final.Cursor)
	assert.Equal(t, "テスト店", final.ShopName)
	assert.Len(t, final.Results, 30)
	assert.Equal(t, []int{1}, src.requested())
}

func TestService_TargetCappedByFullScanLimit(t *testing.T) {
	src := &fakeSource{pages: map[int]catalog.Page{1: pageOf(10, 0, false)}}
	svc, repo, _ := newTestService(src)
	svc.FullScanLimit = 60

	fac := svc.Sources.(*fakeFactory)
	sess, err := svc.Start(context.Background(), StartPatrolCommand{
		TenantID:    "acme",
		ShopURL:     "https://www.rakuten.co.jp/test-shop/",
		TargetCount: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, 60, fac.maxItems)

	waitForStatus(t, repo, "acme", sess.ID, domain.StatusCompleted)
}

func TestService_ResumeContinuesFromCursor(t *testing.T) {
	// pages 1-2 were already processed in an earlier run
	src := &fakeSource{pages: map[int]catalog.Page{3: pageOf(10, 60, false)}}
	svc, repo, _ := newTestService(src)
	svc.FullScanLimit = 90

	prior := make([]domain.Result, 60)
	for i := range prior {
		prior[i] = domain.Result{
			Item:    catalog.Item{Name: fmt.Sprintf("item-%03d", i)},
			Verdict: domain.Verdict{RiskLevel: domain.RiskLow},
		}
	}
	seed := &domain.Session{
		ID:       "11111111-2222-3333-4444-555555555555",
		TenantID: "acme",
		Kind:     domain.KindURL,
		Target:   "https://www.rakuten.co.jp/test-shop/",
		Status:   domain.StatusPaused,
		Cursor:   2,
		Results:  prior,
		Summary:  domain.ComputeSummary(prior),
	}
	require.NoError(t, repo.Save(context.Background(), seed))

	sess, err := svc.Resume(context.Background(), "acme", seed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, sess.Status)

	final := waitForStatus(t, repo, "acme", seed.ID, domain.StatusCompleted)
	assert.Equal(t, 70, final.Summary.Total)
	assert.Equal(t, 3, final.Cursor)
	// only the unprocessed page was fetched, nothing was re-run
	assert.Equal(t, []int{3}, src.requested())
}

func TestService_ResumeRejectsNonResumable(t *testing.T) {
	svc, repo, _ := newTestService(&fakeSource{})

	seed := &domain.Session{
		ID:       "11111111-2222-3333-4444-555555555555",
		TenantID: "acme",
		Kind:     domain.KindFile,
		Status:   domain.StatusPaused,
	}
	require.NoError(t, repo.Save(context.Background(), seed))

	_, err := svc.Resume(context.Background(), "acme", seed.ID)
	assert.ErrorIs(t, err, domain.ErrNotResumable)
}

func TestService_FetchErrorAbortsKeepingPartials(t *testing.T) {
	src := &fakeSource{
		pages: map[int]catalog.Page{1: pageOf(30, 0, true)},
		errOn: map[int]error{2: errors.New("connection refused")},
	}
	svc, repo, warn := newTestService(src)

	sess, err := svc.Start(context.Background(), StartPatrolCommand{
		TenantID:    "acme",
		ShopURL:     "https://www.rakuten.co.jp/test-shop/",
		TargetCount: 60,
	})
	require.NoError(t, err)

	final := waitForStatus(t, repo, "acme", sess.ID, domain.StatusAborted)
	assert.Equal(t, 30, final.Summary.Total)
	assert.Equal(t, 1, final.Cursor)
	assert.Contains(t, warn.phases(), "fetch")
}

func TestService_StopPausesBetweenPages(t *testing.T) {
	src := &fakeSource{pages: map[int]catalog.Page{
		1: pageOf(30, 0, true),
		2: pageOf(30, 30, false),
	}}
	svc, repo, _ := newTestService(src)
	svc.PageWait = 5 * time.Second // park the run between pages

	sess, err := svc.Start(context.Background(), StartPatrolCommand{
		TenantID:    "acme",
		ShopURL:     "https://www.rakuten.co.jp/test-shop/",
		TargetCount: 60,
	})
	require.NoError(t, err)

	// wait until page 1 landed, then request the stop
	require.Eventually(t, func() bool {
		s, err := repo.Get(context.Background(), "acme", sess.ID)
		return err == nil && s.Cursor == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background(), "acme", sess.ID))

	final := waitForStatus(t, repo, "acme", sess.ID, domain.StatusPaused)
	assert.Equal(t, 30, final.Summary.Total)
	assert.Equal(t, 1, final.Cursor)
	assert.Equal(t, []int{1}, src.requested())
}

func TestService_StopForcesPausedOnStaleRow(t *testing.T) {
	svc, repo, _ := newTestService(&fakeSource{})

	seed := &domain.Session{
		ID:       "11111111-2222-3333-4444-555555555555",
		TenantID: "acme",
		Kind:     domain.KindURL,
		Status:   domain.StatusProcessing, // leftover from a crashed process
	}
	require.NoError(t, repo.Save(context.Background(), seed))

	require.NoError(t, svc.Stop(context.Background(), "acme", seed.ID))
	got, err := repo.Get(context.Background(), "acme", seed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, got.Status)
}

func TestService_StartFileRunsAndPersistsSkips(t *testing.T) {
	src := &fakeSource{pages: map[int]catalog.Page{1: pageOf(7, 0, false)}}
	svc, repo, warn := newTestService(src)

	sess, err := svc.StartFile(context.Background(), StartFileCommand{
		TenantID: "acme",
		Target:   "items.csv, broken.csv",
		Source:   src,
		Skipped:  []SkippedFile{{Name: "broken.csv", Message: "read header: EOF"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindFile, sess.Kind)

	final := waitForStatus(t, repo, "acme", sess.ID, domain.StatusCompleted)
	assert.Equal(t, 7, final.Summary.Total)
	assert.Equal(t, 7, final.Cursor) // item offset, not page index

	list, err := warn.ListBySession(context.Background(), "acme", string(sess.ID), 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "parse", list[0].Phase)
	assert.Equal(t, "broken.csv", list[0].Source)
}

func TestService_DuplicateRunRejected(t *testing.T) {
	svc, _, _ := newTestService(&fakeSource{})

	h, err := svc.register("session-1", 30)
	require.NoError(t, err)
	defer svc.unregister("session-1")
	require.NotNil(t, h)

	_, err = svc.register("session-1", 30)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)
}

func TestService_CompletedRunExportsReport(t *testing.T) {
	src := &fakeSource{pages: map[int]catalog.Page{1: pageOf(3, 0, false)}}
	svc, repo, _ := newTestService(src)
	reports := &fakeReports{}
	svc.Reports = reports

	sess, err := svc.Start(context.Background(), StartPatrolCommand{
		TenantID:    "acme",
		ShopURL:     "https://www.rakuten.co.jp/test-shop/",
		TargetCount: 3,
	})
	require.NoError(t, err)

	final := waitForStatus(t, repo, "acme", sess.ID, domain.StatusCompleted)
	wantKey := fmt.Sprintf("acme/url/report-%s.csv", sess.ID)
	assert.Equal(t, "http://reports.local/"+wantKey, final.ReportURL)
	assert.Equal(t, wantKey, reports.key)

	body := string(reports.body)
	assert.True(t, strings.HasPrefix(body, "\xEF\xBB\xBF"), "report must carry a UTF-8 BOM")
	assert.Contains(t, body, "name,risk,critical,reason,detail_url,source,checked_at")
	assert.Contains(t, body, "item-000")
}

func TestService_ProgressSnapshots(t *testing.T) {
	src := &fakeSource{pages: map[int]catalog.Page{1: pageOf(6, 0, false)}}
	svc, repo, _ := newTestService(src)

	sink := &captureSink{}
	svc.Progress = sink

	sess, err := svc.Start(context.Background(), StartPatrolCommand{
		TenantID:    "acme",
		ShopURL:     "https://www.rakuten.co.jp/test-shop/",
		TargetCount: 6,
	})
	require.NoError(t, err)
	waitForStatus(t, repo, "acme", sess.ID, domain.StatusCompleted)

	snaps := sink.snapshots()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Equal(t, 6, last.ProcessedCount)

	// processed counts never go backwards
	prev := 0
	for _, p := range snaps {
		assert.GreaterOrEqual(t, p.ProcessedCount, prev)
		prev = p.ProcessedCount
	}
}

type captureSink struct {
	mu    sync.Mutex
	snaps []domain.Progress
}

func (c *captureSink) Publish(p domain.Progress) {
	c.mu.Lock()
	c.snaps = append(c.snaps, p)
	c.mu.Unlock()
}

func (c *captureSink) snapshots() []domain.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Progress(nil), c.snaps...)
}
