package auth

import (
	"context"
	"log/slog"
	"net/http"

	"student-records/internal/busy"
	"student-records/internal/httputil"
	"student-records/internal/metrics"
	"student-records/internal/session"
	"student-records/internal/validation"
	"student-records/internal/view"

	"github.com/go-chi/chi/v5"
)

// Confirmer completes a signup confirmation link.
type Confirmer interface {
	ConfirmEmail(ctx context.Context, token string) (redirect string, err error)
}

type Handler struct {
	guard      busy.Guard
	confirmer  Confirmer
	redirectTo string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewHandler(guard busy.Guard, confirmer Confirmer, redirectTo string, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		guard:      guard,
		confirmer:  confirmer,
		redirectTo: redirectTo,
		logger:     logger,
		metrics:    m,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Post("/login", h.Login)
		r.Post("/signup", h.Signup)
		r.Post("/logout", h.Logout)
		r.Get("/confirm", h.Confirm)
	})
}

// Forms lists the inputs of each tab.
type Forms struct {
	Tabs   []string            `json:"tabs"`
	Fields map[string][]string `json:"fields"`
}

var screenForms = Forms{
	Tabs: []string{"login", "signup"},
	Fields: map[string][]string{
		"login": {validation.FieldEmail, validation.FieldPassword},
		"signup": {
			validation.FieldFullName,
			validation.FieldEmail,
			validation.FieldMatricula,
			validation.FieldPassword,
			validation.FieldConfirmPassword,
		},
	},
}

func (h *Handler) screen(r *http.Request, rec *view.Recorder) *Screen {
	client, _ := session.ClientFrom(r.Context())
	return NewScreen(client, rec, h.logger, h.metrics, Options{Guard: h.guard, RedirectTo: h.redirectTo})
}

// Show mounts the screen: signed-in users are sent on to the dashboard.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	rec := &view.Recorder{}
	screen := h.screen(r, rec)
	defer screen.Unmount()

	if err := screen.Mount(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to resolve session", "error", err)
		httputil.RespondWithError(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}
	if to := rec.Redirect(); to != "" {
		http.Redirect(w, r, to, http.StatusSeeOther)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, screenForms)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	form, err := httputil.DecodeForm(r)
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec := &view.Recorder{}

	if err := h.screen(r, rec).Login(r.Context(), form); err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, httputil.ResultFrom(rec, nil))
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	form, err := httputil.DecodeForm(r)
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec := &view.Recorder{}

	if err := h.screen(r, rec).Signup(r.Context(), form); err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusCreated, httputil.ResultFrom(rec, nil))
}

// Logout ends the session; the session middleware clears the cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	client, _ := session.ClientFrom(r.Context())
	if err := client.SignOut(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "sign out failed", "error", err)
		httputil.RespondWithError(w, httputil.StatusFor(err), err.Error())
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, httputil.Result{Redirect: view.PathAuth})
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httputil.RespondWithError(w, http.StatusBadRequest, "missing token")
		return
	}

	to, err := h.confirmer.ConfirmEmail(r.Context(), token)
	if err != nil {
		h.logger.WarnContext(r.Context(), "email confirmation failed", "error", err)
		httputil.RespondWithError(w, httputil.StatusFor(err), err.Error())
		return
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}
