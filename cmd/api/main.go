package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ryotask/ecpatrol/internal/application"
	apppatrol "github.com/ryotask/ecpatrol/internal/application/patrol"
	"github.com/ryotask/ecpatrol/internal/config"
	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
	"github.com/ryotask/ecpatrol/internal/domain/warnings"
	"github.com/ryotask/ecpatrol/internal/infra/ai/local"
	aiopenai "github.com/ryotask/ecpatrol/internal/infra/ai/openai"
	"github.com/ryotask/ecpatrol/internal/infra/catalog/rakuten"
	mysqlp "github.com/ryotask/ecpatrol/internal/infra/db/mysql"
	postgresp "github.com/ryotask/ecpatrol/internal/infra/db/postgres"
	"github.com/ryotask/ecpatrol/internal/infra/httpserver"
	minioStore "github.com/ryotask/ecpatrol/internal/infra/storage"
	mw "github.com/ryotask/ecpatrol/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect DB sesuai driver
	var (
		db       interface{ Close() error }
		sessions domain.Repository
		warnRepo warnings.Repository
		checker  mw.HealthChecker
	)
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		db = pg
		sessions = postgresp.NewSessionRepository(pg)
		warnRepo = postgresp.NewWarningRepository(pg)
		checker = &mw.DatabaseHealthChecker{DB: pg}
	default:
		my, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		db = my
		sessions = mysqlp.NewSessionRepository(my)
		warnRepo = mysqlp.NewWarningRepository(my)
		checker = &mw.DatabaseHealthChecker{DB: my}
	}
	defer db.Close()

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// classifier: openai-compatible endpoint, atau heuristic lokal kalau
	// apiKey kosong (dev/offline)
	var classifier domain.Classifier
	if cfg.AI.APIKey != "" {
		classifier = aiopenai.NewClient(aiopenai.Config{
			APIKey:     cfg.AI.APIKey,
			Model:      cfg.AI.Model,
			BaseURL:    cfg.AI.BaseURL,
			Timeout:    time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
			RetryLimit: cfg.AI.RetryLimit,
		})
	} else {
		log.Println("ai.apiKey empty, using local heuristic classifier")
		classifier = local.New()
	}

	// init item source factory
	factory := rakuten.NewFactory(cfg.Catalog.AppID)
	if cfg.Catalog.Endpoint != "" {
		factory.Endpoint = cfg.Catalog.Endpoint
	}
	factory.PageSize = cfg.Patrol.PageSize

	// init scheduler + service
	sched := &apppatrol.Scheduler{
		Classifier:         classifier,
		BatchSize:          cfg.Patrol.BatchSize,
		HighSpeedBatchSize: cfg.Patrol.HighSpeedBatchSize,
		BatchWait:          time.Duration(cfg.Patrol.BatchWaitMS) * time.Millisecond,
	}
	svc := &apppatrol.Service{
		Sessions:      sessions,
		Warnings:      warnRepo,
		Sources:       factory,
		Sched:         sched,
		Reports:       store,
		Progress:      newProgressLogger(),
		Clock:         application.SystemClock{},
		PageSize:      cfg.Patrol.PageSize,
		PageWait:      time.Duration(cfg.Patrol.PageWaitMS) * time.Millisecond,
		FullScanLimit: cfg.Patrol.FullScanLimit,
	}

	// init router + middleware chain
	mux := chi.NewRouter()
	mux.Use(mw.LoggingMiddleware)
	mux.Use(mw.MetricsMiddleware)
	if len(cfg.Auth.APIKeys) > 0 {
		mux.Use(mw.APIKeyAuth(cfg.Auth.APIKeys))
	}
	mux.Use(mw.RateLimitMiddleware(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate))
	mux.Mount("/", httpserver.NewRouter(svc, map[string]mw.HealthChecker{"database": checker}))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// progressLogger implements domain.ProgressSink: log tiap snapshot dan feed
// counter metrics. State per sesi cuma buat hitung delta item.
type progressLogger struct {
	mu   sync.Mutex
	last map[domain.SessionID]int
}

func newProgressLogger() *progressLogger {
	return &progressLogger{last: make(map[domain.SessionID]int)}
}

func (p *progressLogger) Publish(pr domain.Progress) {
	p.mu.Lock()
	prev, seen := p.last[pr.SessionID]
	if !seen {
		mw.IncrementPatrolsRunning()
	}
	if pr.ProcessedCount > prev {
		mw.AddItemsChecked(pr.ProcessedCount - prev)
	}
	if pr.Status == domain.StatusProcessing {
		p.last[pr.SessionID] = pr.ProcessedCount
	} else {
		delete(p.last, pr.SessionID)
		mw.DecrementPatrolsRunning()
		if pr.Status == domain.StatusAborted {
			mw.IncrementPatrolsFailed()
		}
	}
	p.mu.Unlock()

	log.Printf("patrol %s status=%s processed=%d target=%d",
		pr.SessionID, pr.Status, pr.ProcessedCount, pr.TargetCount)
}
