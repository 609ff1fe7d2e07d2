package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	apppatrol "github.com/ryotask/ecpatrol/internal/application/patrol"
	domain "github.com/ryotask/ecpatrol/internal/domain/patrol"
	"github.com/ryotask/ecpatrol/internal/infra/catalog/bulkfile"
	mw "github.com/ryotask/ecpatrol/internal/middleware"
)

const maxUploadBytes = 32 << 20

type Router struct {
	svc *apppatrol.Service
}

func NewRouter(svc *apppatrol.Service, checkers map[string]mw.HealthChecker) http.Handler {
	r := &Router{svc: svc}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", mw.HealthHandler(checkers))
	mux.Get("/ready", mw.ReadinessHandler)
	mux.Get("/live", mw.LivenessHandler)
	mux.Get("/metrics", mw.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Post("/patrols", r.wrap(r.handleStart))
		rt.Post("/patrols/file", r.wrap(r.handleStartFile))
		rt.Post("/patrols/{id}/stop", r.wrap(r.handleStop))
		rt.Post("/patrols/{id}/resume", r.wrap(r.handleResume))
		rt.Get("/patrols", r.wrap(r.handleList))
		rt.Get("/patrols/latest", r.wrap(r.handleLatest))
		rt.Get("/patrols/{id}", r.wrap(r.handleGet))
		rt.Get("/patrols/{id}/progress", r.wrap(r.handleProgress))
		rt.Get("/patrols/{id}/warnings", r.wrap(r.handleWarnings))
		rt.Get("/summary", r.wrap(r.handleSummary))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// httpError membawa status code eksplisit keluar dari handler
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, a ...any) error {
	return &httpError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, a...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var he *httpError
			if errors.As(err, &he) {
				http.Error(w, he.msg, he.code)
				return
			}
			if errors.Is(err, sql.ErrNoRows) || errors.Is(err, domain.ErrSessionNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, domain.ErrAlreadyRunning) {
				http.Error(w, "patrol already running for this session", http.StatusConflict)
				return
			}
			if errors.Is(err, domain.ErrNotResumable) {
				http.Error(w, "session is not resumable", http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func (r *Router) tenantParam(req *http.Request) (string, error) {
	tenant := chi.URLParam(req, "tenant")
	if err := mw.ValidateTenantID(tenant); err != nil {
		return "", badRequest("%v", err)
	}
	return tenant, nil
}

func (r *Router) sessionParam(req *http.Request) (domain.SessionID, error) {
	id := chi.URLParam(req, "id")
	if err := mw.ValidateSessionID(id); err != nil {
		return "", badRequest("%v", err)
	}
	return domain.SessionID(id), nil
}

// POST /v1/{tenant}/patrols
// Body: {"shop_url": "...", "target_count": 30, "high_speed": false}
// Run jalan di background; respons balik langsung dengan sesi processing.
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}

	var body struct {
		ShopURL     string `json:"shop_url"`
		TargetCount int    `json:"target_count"`
		HighSpeed   bool   `json:"high_speed"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	if err := mw.ValidateShopURL(body.ShopURL); err != nil {
		return badRequest("%v", err)
	}

	sess, err := r.svc.Start(req.Context(), apppatrol.StartPatrolCommand{
		TenantID:    tenant,
		ShopURL:     mw.SanitizeString(body.ShopURL),
		TargetCount: body.TargetCount,
		HighSpeed:   body.HighSpeed,
	})
	if err != nil {
		mw.IncrementPatrolsFailed()
		return err
	}
	mw.IncrementPatrols()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(map[string]any{
		"session":  sess,
		"message":  "patrol started in background",
		"queuedAt": time.Now(),
	})
}

// POST /v1/{tenant}/patrols/file (multipart/form-data)
// fields: files (repeated), encoding, name_column, high_speed
func (r *Router) handleStartFile(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}

	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		return badRequest("invalid multipart body: %v", err)
	}
	defer req.MultipartForm.RemoveAll()

	enc := req.FormValue("encoding")
	if err := mw.ValidateEncoding(enc); err != nil {
		return badRequest("%v", err)
	}
	nameColumn := mw.SanitizeString(req.FormValue("name_column"))
	highSpeed := req.FormValue("high_speed") == "true"

	uploads := req.MultipartForm.File["files"]
	if len(uploads) == 0 {
		return badRequest("at least one file is required")
	}

	// tulis upload ke temp dir dengan nama asli supaya warning pakai nama
	// yang dikenal user
	dir, err := os.MkdirTemp("", "patrol-upload-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	var paths, names []string
	for _, fh := range uploads {
		name := filepath.Base(fh.Filename)
		if name == "" || name == "." || name == ".." {
			return badRequest("invalid file name: %q", fh.Filename)
		}
		dst := filepath.Join(dir, name)
		if err := saveUpload(fh, dst); err != nil {
			return err
		}
		paths = append(paths, dst)
		names = append(names, name)
	}

	src, skipped, err := bulkfile.Load(paths, bulkfile.Options{Encoding: enc, NameColumn: nameColumn})
	if err != nil {
		return badRequest("%v", err)
	}

	cmd := apppatrol.StartFileCommand{
		TenantID:  tenant,
		Target:    strings.Join(names, ", "),
		Source:    src,
		HighSpeed: highSpeed,
	}
	for _, sk := range skipped {
		cmd.Skipped = append(cmd.Skipped, apppatrol.SkippedFile{Name: sk.Name, Message: sk.Message})
	}

	sess, err := r.svc.StartFile(req.Context(), cmd)
	if err != nil {
		mw.IncrementPatrolsFailed()
		return err
	}
	mw.IncrementPatrols()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(map[string]any{
		"session":  sess,
		"skipped":  skipped,
		"items":    src.Len(),
		"message":  "bulk patrol started in background",
		"queuedAt": time.Now(),
	})
}

// POST /v1/{tenant}/patrols/{id}/stop
func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}
	id, err := r.sessionParam(req)
	if err != nil {
		return err
	}

	if err := r.svc.Stop(req.Context(), tenant, id); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"session_id": id,
		"message":    "stop requested; in-flight batch will finish",
	})
}

// POST /v1/{tenant}/patrols/{id}/resume
func (r *Router) handleResume(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}
	id, err := r.sessionParam(req)
	if err != nil {
		return err
	}

	sess, err := r.svc.Resume(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	mw.IncrementPatrols()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(map[string]any{
		"session": sess,
		"message": "patrol resumed in background",
	})
}

// GET /v1/{tenant}/patrols?page=&page_size=&kind=&status=&target=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	filters := map[string]interface{}{}
	for _, key := range []string{"kind", "status", "target"} {
		if v := req.URL.Query().Get(key); v != "" {
			filters[key] = mw.SanitizeString(v)
		}
	}

	list, err := r.svc.List(req.Context(), tenant, page, mw.ValidateLimit(size), filters)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /v1/{tenant}/patrols/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.svc.Latest(req.Context(), tenant, mw.ValidateLimit(limit))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /v1/{tenant}/patrols/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}
	id, err := r.sessionParam(req)
	if err != nil {
		return err
	}

	sess, err := r.svc.Get(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(sess)
}

// GET /v1/{tenant}/patrols/{id}/progress
func (r *Router) handleProgress(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}
	id, err := r.sessionParam(req)
	if err != nil {
		return err
	}

	p, err := r.svc.ProgressFor(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(p)
}

// GET /v1/{tenant}/patrols/{id}/warnings?limit=20
func (r *Router) handleWarnings(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}
	id, err := r.sessionParam(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.svc.ListWarnings(req.Context(), tenant, id, mw.ValidateLimit(limit))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /v1/{tenant}/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenantParam(req)
	if err != nil {
		return err
	}
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))

	summary, err := r.svc.Summary(req.Context(), tenant, mw.ValidateDays(days))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(summary)
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(src, maxUploadBytes)); err != nil {
		return err
	}
	return f.Sync()
}
