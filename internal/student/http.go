package student

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"student-records/internal/backend"
	"student-records/internal/busy"
	"student-records/internal/httputil"
	"student-records/internal/metrics"
	"student-records/internal/record"
	"student-records/internal/session"
	"student-records/internal/view"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const streamKeepAlive = 25 * time.Second

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
	router.Route("/students", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/stream", h.Stream)
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

type response struct {
	httputil.Result
	Student *record.Student `json:"student,omitempty"`
	Confirm string          `json:"confirm,omitempty"`
	List    *State          `json:"list,omitempty"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	client, _ := session.ClientFrom(r.Context())
	rec := &view.Recorder{}

	panel := NewListPanel(client, rec, h.logger, h.metrics, ListOptions{})
	if err := panel.Mount(r.Context(), pageParam(r)); err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}

	state := panel.State()
	httputil.RespondWithJSON(w, http.StatusOK, response{Result: httputil.ResultFrom(rec, nil), List: &state})
}

// Stream keeps a live list panel mounted for the lifetime of the request and
// sends its state as server-sent events after every fetch.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, _ := session.ClientFrom(ctx)
	rec := &view.Recorder{}

	// Holds only the newest state; a slow reader skips intermediate ones.
	updates := make(chan State, 1)
	push := func(s State) {
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- s:
		default:
		}
	}

	panel := NewListPanel(client, rec, h.logger, h.metrics, ListOptions{Live: true, OnChange: push})
	if err := panel.Mount(ctx, pageParam(r)); err != nil {
		panel.Unmount()
		httputil.RespondWithResult(w, rec, err)
		return
	}
	defer panel.Unmount()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	// The stream cannot rewrite cookies, so it ends with the access token and
	// the browser reconnects through the session middleware.
	var expired <-chan time.Time
	if s, err := client.GetSession(ctx); err == nil && s != nil {
		timer := time.NewTimer(time.Until(s.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	h.logger.DebugContext(ctx, "student stream opened")
	for {
		select {
		case <-ctx.Done():
			h.logger.DebugContext(ctx, "student stream closed")
			return
		case s := <-updates:
			if err := writeEvent(w, "state", response{Result: httputil.ResultFrom(rec, nil), List: &s}); err != nil {
				h.logger.WarnContext(ctx, "failed to write stream event", "error", err)
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case <-expired:
			h.logger.DebugContext(ctx, "student stream session expired")
			if err := writeEvent(w, "expired", map[string]string{"error": "session expired"}); err == nil {
				_ = rc.Flush()
			}
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.WarnContext(ctx, "stream flush failed", "error", err)
			return
		}
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, _ := session.ClientFrom(ctx)
	values, err := httputil.DecodeForm(r)
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec := &view.Recorder{}
	page := pageParam(r)

	panel := NewListPanel(client, rec, h.logger, h.metrics, ListOptions{})
	form := NewForm(client, rec, h.logger, h.metrics, nil, h.formOptions(r))
	form.Fill(values)

	saved, err := form.Submit(ctx, func(ctx context.Context) error {
		return panel.Mount(ctx, page)
	})
	if err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}

	state := panel.State()
	httputil.RespondWithJSON(w, http.StatusCreated, response{
		Result:  httputil.ResultFrom(rec, nil),
		Student: &saved,
		List:    &state,
	})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, _ := session.ClientFrom(ctx)
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	values, err := httputil.DecodeForm(r)
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec := &view.Recorder{}

	panel := NewListPanel(client, rec, h.logger, h.metrics, ListOptions{})
	if err := panel.Mount(ctx, pageParam(r)); err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}

	row, ok := panel.Find(id)
	if !ok {
		// Not on the requested page: the submitted fields must be complete.
		row = record.Student{ID: id}
	}
	panel.SelectEdit(row)

	form := NewForm(client, rec, h.logger, h.metrics, &row, h.formOptions(r))
	for k, v := range values {
		form.Set(k, v)
	}

	saved, err := form.Submit(ctx, panel.EditSucceeded)
	if err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}

	state := panel.State()
	httputil.RespondWithJSON(w, http.StatusOK, response{
		Result:  httputil.ResultFrom(rec, nil),
		Student: &saved,
		List:    &state,
	})
}

// Delete opens the confirmation naming the record; with confirm=true it also
// confirms it.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client, _ := session.ClientFrom(ctx)
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	rec := &view.Recorder{}

	panel := NewListPanel(client, rec, h.logger, h.metrics, ListOptions{})
	if err := panel.Mount(ctx, pageParam(r)); err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}

	row, ok := panel.Find(id)
	if !ok {
		httputil.RespondWithResult(w, rec, backend.NewError(backend.CodeNotFound, ErrNotOnPage.Error()))
		return
	}
	panel.RequestDelete(row)

	if confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirmed {
		state := panel.State()
		httputil.RespondWithJSON(w, http.StatusOK, response{
			Result:  httputil.ResultFrom(rec, nil),
			Confirm: confirmPrompt(row),
			List:    &state,
		})
		return
	}

	if err := panel.ConfirmDelete(ctx); err != nil {
		httputil.RespondWithResult(w, rec, err)
		return
	}

	state := panel.State()
	httputil.RespondWithJSON(w, http.StatusOK, response{Result: httputil.ResultFrom(rec, nil), List: &state})
}

func (h *Handler) formOptions(r *http.Request) FormOptions {
	actor := "anonymous"
	if s, ok := session.From(r.Context()); ok {
		actor = s.User.ID.String()
	}
	return FormOptions{Guard: h.guard, Key: busy.Key("student-form", actor)}
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
