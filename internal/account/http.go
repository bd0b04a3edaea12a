package account

import (
	"log/slog"
	"net/http"

	"student-records/internal/busy"
	"student-records/internal/httputil"
	"student-records/internal/metrics"
	"student-records/internal/session"
	"student-records/internal/view"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	guard   busy.Guard
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHandler(guard busy.Guard, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{guard: guard, logger: logger, metrics: m}
}

// RegisterRoutes expects to be mounted behind session.RequireSession.
func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/account/password", h.ChangePassword)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	client, _ := session.ClientFrom(r.Context())
	form, err := httputil.DecodeForm(r)
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := "anonymous"
	if s, ok := session.From(r.Context()); ok {
		actor = s.User.ID.String()
	}

	rec := &view.Recorder{}
	panel := NewPasswordPanel(client, rec, h.logger, h.metrics, Options{
		Guard: h.guard,
		Key:   busy.Key("password", actor),
	})
	panel.Fill(form)

	if err := panel.Submit(r.Context()); err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, httputil.ResultFrom(rec, nil))
}
