package landing

import (
	"log/slog"
	"net/http"

	"student-records/internal/httputil"
	"student-records/internal/session"
	"student-records/internal/view"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/", h.Home)
	router.Get("/dashboard", h.Dashboard)
}

func (h *Handler) page(r *http.Request, rec *view.Recorder) *Page {
	client, _ := session.ClientFrom(r.Context())
	return NewPage(client, rec, h.logger)
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	rec := &view.Recorder{}
	content, err := h.page(r, rec).Mount(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to resolve session", "error", err)
		httputil.RespondWithError(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}
	if to := rec.Redirect(); to != "" {
		http.Redirect(w, r, to, http.StatusSeeOther)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, content)
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	rec := &view.Recorder{}
	summary, err := h.page(r, rec).Dashboard(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to resolve session", "error", err)
		httputil.RespondWithError(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}
	if to := rec.Redirect(); to != "" {
		http.Redirect(w, r, to, http.StatusSeeOther)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, summary)
}
