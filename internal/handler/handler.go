// Package handler exposes the scoring engine over HTTP.
package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/scanmark/scanmark/internal/i18n"
	"github.com/scanmark/scanmark/internal/model"
	"github.com/scanmark/scanmark/internal/scoring"
	"github.com/scanmark/scanmark/internal/sheet"
	"github.com/scanmark/scanmark/internal/store"
)

const maxUploadBytes = 32 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store        *store.Store // nil disables the run archive
	config       model.ServeConfig
	passwordHash []byte // nil disables authentication
}

// New creates a new Handler. A non-empty API password is hashed once at
// startup and required on every request except the health check.
func New(s *store.Store, cfg model.ServeConfig) (*Handler, error) {
	h := &Handler{store: s, config: cfg}
	if cfg.APIPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.APIPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash API password: %w", err)
		}
		h.passwordHash = hash
	}
	return h, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Post("/score", h.handleScore)
		r.Get("/runs", h.handleListRuns)
		r.Get("/runs/{runID}", h.handleGetRun)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleScore grades an uploaded (responses, keys) CSV pair and returns the
// scored sheet as CSV. Pass ?sort=1 to order rows by student name.
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, appI18n.T(ctx, "ErrBadUpload"), http.StatusBadRequest)
		return
	}

	responses, responsesName, err := readUploadedSheet(r, "responses")
	if err != nil {
		http.Error(w, appI18n.T(ctx, "ErrReadResponses"), http.StatusBadRequest)
		return
	}
	keys, keysName, err := readUploadedSheet(r, "keys")
	if err != nil {
		http.Error(w, appI18n.T(ctx, "ErrReadKeys"), http.StatusBadRequest)
		return
	}

	scored, err := scoring.Score(responses, keys)
	if err != nil {
		slog.Error("scoring request failed", "error", err)
		http.Error(w, appI18n.T(ctx, "ErrScoreFailed")+": "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if r.URL.Query().Get("sort") == "1" {
		scored.SortByName()
	}

	if h.store != nil {
		run := model.Run{
			ID:            uuid.NewString(),
			CreatedAt:     time.Now(),
			ResponsesFile: responsesName,
			KeysFile:      keysName,
			NumQuestions:  scored.NumQuestions,
			NumRows:       scored.RowCount(),
			NumMissingKey: scoring.MissingKeyCount(scored),
		}
		if err := h.store.SaveRun(run, store.ResultsFromSheet(run.ID, scored)); err != nil {
			slog.Error("archive run", "error", err)
		} else {
			w.Header().Set("X-Scanmark-Run", run.ID)
		}
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if err := scored.WriteCSV(w); err != nil {
		slog.Error("write scored CSV", "error", err)
	}
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, []model.Run{})
		return
	}
	runs, err := h.store.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if h.store == nil {
		http.Error(w, appI18n.T(r.Context(), "ErrRunNotFound"), http.StatusNotFound)
		return
	}
	view, err := h.store.GetRunView(runID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, appI18n.T(r.Context(), "ErrRunNotFound"), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, view)
}

func readUploadedSheet(r *http.Request, field string) (*sheet.Sheet, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer func(f multipart.File) { _ = f.Close() }(file)
	s, err := sheet.Read(file)
	if err != nil {
		return nil, "", err
	}
	return s, header.Filename, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode JSON response", "error", err)
	}
}
