package patrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryotask/ecpatrol/internal/application"
	"github.com/ryotask/ecpatrol/internal/domain/catalog"
	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
	"github.com/ryotask/ecpatrol/internal/domain/warnings"
)

// Service implements use-cases untuk patrol run.
// Satu sesi dimiliki eksklusif oleh satu goroutine run selama run hidup;
// registry in-process menolak start/resume ganda untuk sesi yang sama.
// Koordinasi lintas proses tidak ada (asumsi single writer, lihat DESIGN.md).
type Service struct {
	Sessions domain.Repository
	Warnings warnings.Repository
	Sources  catalog.SourceFactory
	Sched    *Scheduler
	Reports  domain.ReportStore   // optional; nil = tanpa ekspor laporan
	Progress domain.ProgressSink  // optional
	Clock    application.Clock

	PageSize      int           // ukuran halaman remote catalog (30)
	PageWait      time.Duration // jeda antar halaman
	FullScanLimit int           // target maksimum; dipakai juga saat resume

	mu      sync.Mutex
	running map[domain.SessionID]*runHandle
}

type runHandle struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	progress domain.Progress
}

// Command untuk memulai patroli remote catalog
type StartPatrolCommand struct {
	TenantID    string
	ShopURL     string
	TargetCount int
	HighSpeed   bool
}

// SkippedFile mencatat file bulk yang gagal diparse (run tetap jalan).
type SkippedFile struct {
	Name    string
	Message string
}

// Command untuk memulai patroli bulk file. Source sudah dimaterialisasi oleh
// loader; file yang gagal diparse masuk Skipped dan dipersist sebagai warning.
type StartFileCommand struct {
	TenantID  string
	Target    string // daftar nama file
	Source    catalog.ItemSource
	Skipped   []SkippedFile
	HighSpeed bool
}

// Start membuat sesi baru lalu menjalankan patroli URL di background.
// Baris sesi dibuat duluan supaya selalu ada ID yang bisa direferensikan.
func (s *Service) Start(ctx context.Context, cmd StartPatrolCommand) (*domain.Session, error) {
	target := cmd.TargetCount
	if target <= 0 {
		target = s.PageSize
	}
	if s.FullScanLimit > 0 && target > s.FullScanLimit {
		target = s.FullScanLimit
	}

	src, err := s.Sources.ForShop(cmd.ShopURL, target)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	sess := &domain.Session{
		ID:        domain.SessionID(uuid.New().String()),
		TenantID:  cmd.TenantID,
		Kind:      domain.KindURL,
		Target:    cmd.ShopURL,
		Status:    domain.StatusProcessing,
		Cursor:    0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	h, err := s.register(sess.ID, target)
	if err != nil {
		return nil, err
	}
	go s.runURL(h, sess, src, target, cmd.HighSpeed)
	return sess, nil
}

// StartFile membuat sesi bulk-file lalu menjalankannya di background.
func (s *Service) StartFile(ctx context.Context, cmd StartFileCommand) (*domain.Session, error) {
	now := s.Clock.Now()
	sess := &domain.Session{
		ID:        domain.SessionID(uuid.New().String()),
		TenantID:  cmd.TenantID,
		Kind:      domain.KindFile,
		Target:    cmd.Target,
		Status:    domain.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	for _, sk := range cmd.Skipped {
		s.warn(sess, "parse", sk.Name, sk.Message)
	}

	h, err := s.register(sess.ID, 0)
	if err != nil {
		return nil, err
	}
	go s.runFile(h, sess, cmd.Source, cmd.HighSpeed)
	return sess, nil
}

// Resume melanjutkan sesi url yang paused/aborted dari cursor tersimpan.
// Target di-override ke full-scan limit supaya resume selalu jalan sampai
// habis. Sesi bulk file tidak bisa diresume (all-or-nothing).
func (s *Service) Resume(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	sess, err := s.Sessions.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if !sess.Resumable() {
		return nil, domain.ErrNotResumable
	}

	src, err := s.Sources.ForShop(sess.Target, s.FullScanLimit)
	if err != nil {
		return nil, err
	}

	h, err := s.register(sess.ID, s.FullScanLimit)
	if err != nil {
		return nil, err
	}

	sess.Status = domain.StatusProcessing
	sess.UpdatedAt = s.Clock.Now()
	if err := s.Sessions.Save(ctx, sess); err != nil {
		s.unregister(sess.ID)
		return nil, err
	}

	go s.runURL(h, sess, src, s.FullScanLimit, false)
	return sess, nil
}

// Stop meminta run berhenti secara kooperatif. Batch yang sedang in-flight
// dibiarkan selesai; sesi berakhir paused. Kalau tidak ada run hidup tapi
// baris sesi masih processing (sisa crash), baris dipaksa paused.
func (s *Service) Stop(ctx context.Context, tenant string, id domain.SessionID) error {
	s.mu.Lock()
	h := s.running[id]
	s.mu.Unlock()
	if h != nil {
		h.cancel()
		return nil
	}

	sess, err := s.Sessions.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	if sess.Status == domain.StatusProcessing {
		sess.Status = domain.StatusPaused
		sess.UpdatedAt = s.Clock.Now()
		return s.Sessions.Save(ctx, sess)
	}
	return nil
}

// Get ambil 1 sesi by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	return s.Sessions.Get(ctx, tenant, id)
}

// Latest ambil N sesi terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Session, error) {
	return s.Sessions.Latest(ctx, tenant, limit)
}

// List ambil sesi dengan offset pagination + filter (kind/status/target)
func (s *Service) List(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	return s.Sessions.Paginate(ctx, tenant, page, pageSize, filters)
}

// Summary rekap hasil patroli N hari terakhir
func (s *Service) Summary(ctx context.Context, tenant string, sinceDays int) (map[string]any, error) {
	total, high, medium, critical, err := s.Sessions.Summary(ctx, tenant, sinceDays)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_items": total,
		"high":        high,
		"medium":      medium,
		"critical":    critical,
	}, nil
}

// ListWarnings ambil warning tersimpan untuk satu sesi
func (s *Service) ListWarnings(ctx context.Context, tenant string, id domain.SessionID, limit int) ([]*warnings.PatrolWarning, error) {
	return s.Warnings.ListBySession(ctx, tenant, string(id), limit)
}

// ProgressFor mengembalikan snapshot progress. Untuk run yang hidup snapshot
// diambil dari handle; untuk sesi selesai disintesis dari baris tersimpan.
func (s *Service) ProgressFor(ctx context.Context, tenant string, id domain.SessionID) (domain.Progress, error) {
	s.mu.Lock()
	h := s.running[id]
	s.mu.Unlock()
	if h != nil {
		h.mu.Lock()
		p := h.progress
		h.mu.Unlock()
		return p, nil
	}

	sess, err := s.Sessions.Get(ctx, tenant, id)
	if err != nil {
		return domain.Progress{}, err
	}
	return domain.Progress{
		SessionID:      sess.ID,
		Status:         sess.Status,
		ProcessedCount: sess.Summary.Total,
		TargetCount:    sess.Summary.Total,
	}, nil
}

//
// ==== RUN LOOPS ====
//

// runURL adalah main loop patroli remote catalog: fetch halaman cursor+1,
// klasifikasi via scheduler, append + persist per halaman, cek cancel dan
// stop condition, ulangi. Empat disposisi terminal direkonsiliasi di sini.
func (s *Service) runURL(h *runHandle, sess *domain.Session, src catalog.ItemSource, target int, highSpeed bool) {
	defer s.unregister(sess.ID)
	ctx := h.ctx
	// run ctx bisa keburu dibatalkan; persist tidak boleh ikut mati
	pctx := context.Background()

	pageLimit := (target + s.PageSize - 1) / s.PageSize
	disposition := domain.StatusCompleted

	for page := sess.Cursor + 1; page <= pageLimit; page++ {
		// poll point 1: sebelum fetch halaman baru
		if ctx.Err() != nil {
			disposition = domain.StatusPaused
			break
		}

		pg, err := src.NextPage(ctx, page)
		if err != nil {
			// fetch failure tidak di-recover: run berakhir aborted dengan
			// cursor di halaman terakhir yang sukses, hasil parsial disimpan
			disposition = domain.StatusAborted
			s.warn(sess, "fetch", sess.Target, fmt.Sprintf("page %d: %v", page, err))
			break
		}
		if len(pg.Items) == 0 {
			break
		}
		if sess.ShopName == "" {
			sess.ShopName = pg.Items[0].ShopName
		}

		done := len(sess.Results)
		results := s.Sched.RunPage(ctx, pg.Items, highSpeed, func(batch []domain.Result) {
			done += len(batch)
			s.publish(h, sess.ID, domain.StatusProcessing, done, target)
		})

		sess.Append(results...)
		sess.Cursor = page
		s.persist(pctx, sess, domain.StatusProcessing)
		s.publish(h, sess.ID, domain.StatusProcessing, len(sess.Results), target)

		if len(sess.Results) >= target {
			break
		}
		if !pg.HasMore {
			break
		}
		sleepContext(ctx, s.PageWait)
	}

	if disposition == domain.StatusCompleted && h.ctx.Err() != nil && len(sess.Results) < target {
		disposition = domain.StatusPaused
	}
	s.finish(pctx, h, sess, disposition, target)
}

// runFile menjalankan patroli bulk: satu halaman besar yang dipotong per
// batch oleh scheduler; persist tiap batch, cursor = offset item.
func (s *Service) runFile(h *runHandle, sess *domain.Session, src catalog.ItemSource, highSpeed bool) {
	defer s.unregister(sess.ID)
	ctx := h.ctx
	pctx := context.Background()

	pg, err := src.NextPage(ctx, 1)
	if err != nil {
		s.warn(sess, "parse", sess.Target, err.Error())
		s.finish(pctx, h, sess, domain.StatusAborted, 0)
		return
	}
	target := len(pg.Items)

	s.Sched.RunPage(ctx, pg.Items, highSpeed, func(batch []domain.Result) {
		sess.Append(batch...)
		sess.Cursor = len(sess.Results)
		s.persist(pctx, sess, domain.StatusProcessing)
		s.publish(h, sess.ID, domain.StatusProcessing, len(sess.Results), target)
	})

	disposition := domain.StatusCompleted
	if ctx.Err() != nil && len(sess.Results) < target {
		disposition = domain.StatusPaused
	}
	s.finish(pctx, h, sess, disposition, target)
}

// finish menutup run: ekspor laporan untuk run yang completed, lalu persist
// status terminal. Semua verdict yang sudah terkumpul ikut tersimpan apapun
// disposisinya.
func (s *Service) finish(pctx context.Context, h *runHandle, sess *domain.Session, disposition domain.Status, target int) {
	if disposition == domain.StatusCompleted && s.Reports != nil && len(sess.Results) > 0 {
		if url, err := s.exportReport(pctx, sess); err != nil {
			s.warn(sess, "report", sess.Target, err.Error())
		} else {
			sess.ReportURL = url
		}
	}
	s.persist(pctx, sess, disposition)
	s.publish(h, sess.ID, disposition, len(sess.Results), target)
}

func (s *Service) persist(ctx context.Context, sess *domain.Session, status domain.Status) {
	if domain.CanTransition(sess.Status, status) {
		sess.Status = status
	}
	sess.Summary = domain.ComputeSummary(sess.Results)
	sess.UpdatedAt = s.Clock.Now()
	if err := s.Sessions.Save(ctx, sess); err != nil {
		// persist gagal bukan alasan membuang hasil in-memory; coba lagi di
		// persist berikutnya
		s.warn(sess, "persist", sess.Target, err.Error())
	}
}

func (s *Service) warn(sess *domain.Session, phase, source, msg string) {
	if s.Warnings == nil {
		return
	}
	_ = s.Warnings.Save(context.Background(), &warnings.PatrolWarning{
		TenantID:  sess.TenantID,
		SessionID: string(sess.ID),
		Source:    source,
		Phase:     phase,
		Message:   msg,
		CreatedAt: s.Clock.Now(),
	})
}

func (s *Service) publish(h *runHandle, id domain.SessionID, status domain.Status, processed, target int) {
	p := domain.Progress{
		SessionID:      id,
		Status:         status,
		ProcessedCount: processed,
		TargetCount:    target,
	}
	h.mu.Lock()
	h.progress = p
	h.mu.Unlock()
	if s.Progress != nil {
		s.Progress.Publish(p)
	}
}

func (s *Service) register(id domain.SessionID, target int) (*runHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[domain.SessionID]*runHandle)
	}
	if _, ok := s.running[id]; ok {
		return nil, domain.ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{ctx: ctx, cancel: cancel}
	h.progress = domain.Progress{SessionID: id, Status: domain.StatusProcessing, TargetCount: target}
	s.running[id] = h
	return h, nil
}

func (s *Service) unregister(id domain.SessionID) {
	s.mu.Lock()
	h := s.running[id]
	delete(s.running, id)
	s.mu.Unlock()
	if h != nil {
		h.cancel()
	}
}
