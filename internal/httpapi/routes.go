// Package httpapi exposes the refresh flow and cached profiles to the
// dashboard.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/corpsignal/internal/domain"
	"github.com/SirClappington/corpsignal/internal/jobapi"
	"github.com/SirClappington/corpsignal/internal/refresh"
	"github.com/SirClappington/corpsignal/internal/storage"
)

// Refresher is the subset of refresh.Manager the handlers need.
type Refresher interface {
	Refresh(ctx context.Context, corpID string, jobType domain.JobType) (refresh.View, error)
	View(corpID string) (refresh.View, error)
	Cancel(corpID string) bool
	History(ctx context.Context, corpID string, limit int) ([]storage.OutcomeRecord, error)
}

// ProfileReader serves cached corporate profiles.
type ProfileReader interface {
	Profile(ctx context.Context, corpID string) (json.RawMessage, bool, error)
}

const defaultHistoryLimit = 20

// NewRouter mounts the refresh routes, and the profile route when profiles
// is not nil.
func NewRouter(svc Refresher, profiles ProfileReader, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{svc: svc, profiles: profiles, log: log}

	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.RealIP)
	rtr.Use(requestLogger(log))
	rtr.Use(middleware.Recoverer)

	rtr.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}) })

	rtr.Route("/v1/corporations/{corpID}", func(r chi.Router) {
		r.Post("/refresh", h.startRefresh)
		r.Get("/refresh", h.getRefresh)
		r.Delete("/refresh", h.cancelRefresh)
		r.Get("/jobs", h.listJobs)
		if profiles != nil {
			r.Get("/profile", h.getProfile)
		}
	})
	return rtr
}

type handlers struct {
	svc      Refresher
	profiles ProfileReader
	log      *zap.Logger
}

func (h *handlers) startRefresh(w http.ResponseWriter, r *http.Request) {
	corpID := chi.URLParam(r, "corpID")
	jt := domain.ProfileRefresh
	if q := r.URL.Query().Get("type"); q != "" {
		var err error
		if jt, err = domain.ParseJobType(q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	v, err := h.svc.Refresh(r.Context(), corpID, jt)
	var te *refresh.TriggerError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, v)
	case errors.Is(err, refresh.ErrInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &te):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, refresh.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error("refresh failed", zap.String("corp_id", corpID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handlers) getRefresh(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.View(chi.URLParam(r, "corpID"))
	if errors.Is(err, refresh.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) cancelRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Cancel(chi.URLParam(r, "corpID")) {
		writeError(w, http.StatusNotFound, "no running job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	corpID := chi.URLParam(r, "corpID")
	limit := defaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	recs, err := h.svc.History(r.Context(), corpID, limit)
	if err != nil {
		h.log.Error("list jobs failed", zap.String("corp_id", corpID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	corpID := chi.URLParam(r, "corpID")
	raw, hit, err := h.profiles.Profile(r.Context(), corpID)
	var se *jobapi.StatusError
	switch {
	case err == nil:
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		writeError(w, http.StatusNotFound, "unknown corporation")
		return
	default:
		h.log.Error("profile read failed", zap.String("corp_id", corpID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "profile unavailable")
		return
	}

	w.Header().Set("X-Cache", "MISS")
	if hit {
		w.Header().Set("X-Cache", "HIT")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
