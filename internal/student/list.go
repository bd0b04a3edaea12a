package student

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"student-records/internal/backend"
	"student-records/internal/metrics"
	"student-records/internal/record"
	"student-records/internal/view"

	"github.com/google/uuid"
)

const (
	MsgLoadFailed   = "failed to load students: "
	MsgDeleteFailed = "failed to delete student: "
	MsgDeleted      = "student deleted successfully"
	MsgEmpty        = "no students registered yet"
)

var (
	ErrNoPendingDelete = errors.New("no student selected for deletion")
	ErrNotOnPage       = errors.New("student is not on the current page")
)

// feedRefetchTimeout bounds refetches triggered by change notifications.
const feedRefetchTimeout = 10 * time.Second

// State is a snapshot of the list panel.
type State struct {
	Page          int              `json:"page"`
	PageSize      int              `json:"page_size"`
	PageCount     int              `json:"page_count"`
	Total         int              `json:"total"`
	Rows          []record.Student `json:"rows"`
	Loading       bool             `json:"loading"`
	HasPrev       bool             `json:"has_prev"`
	HasNext       bool             `json:"has_next"`
	RangeStart    int              `json:"range_start"`
	RangeEnd      int              `json:"range_end"`
	RangeLabel    string           `json:"range_label,omitempty"`
	EmptyMessage  string           `json:"empty_message,omitempty"`
	Editing       *record.Student  `json:"editing,omitempty"`
	PendingDelete *record.Student  `json:"pending_delete,omitempty"`
}

type ListOptions struct {
	// Live subscribes to the change feed while mounted.
	Live bool
	// OnChange observes the state after every applied fetch.
	OnChange func(State)
}

// ListPanel shows one page of the session user's students, newest first.
// Every fetch carries an increasing token; a response is applied only while
// its token is the latest, so overlapping refetches cannot overwrite newer
// data with older data.
type ListPanel struct {
	client  backend.Client
	sink    view.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    ListOptions

	mu          sync.Mutex
	page        int
	total       int
	rows        []record.Student
	loading     bool
	editing     *record.Student
	deleting    *record.Student
	latest      uint64
	mounted     bool
	unsubscribe func()
}

func NewListPanel(client backend.Client, sink view.Sink, logger *slog.Logger, m *metrics.Metrics, opts ListOptions) *ListPanel {
	return &ListPanel{
		client:  client,
		sink:    sink,
		logger:  logger,
		metrics: m,
		opts:    opts,
		page:    1,
		rows:    []record.Student{},
	}
}

// Mount shows page and starts listening for changes when live.
func (p *ListPanel) Mount(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	p.mu.Lock()
	p.mounted = true
	p.page = page
	p.mu.Unlock()

	p.resubscribe(ctx)
	return p.Refetch(ctx)
}

// Unmount stops the subscription; responses still in flight are discarded.
func (p *ListPanel) Unmount() {
	p.mu.Lock()
	p.mounted = false
	p.latest++
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (p *ListPanel) resubscribe(ctx context.Context) {
	if !p.opts.Live {
		return
	}

	p.mu.Lock()
	previous := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()
	if previous != nil {
		previous()
	}

	unsubscribe, err := p.client.SubscribeToTableChanges(record.Table, p.onChange)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to subscribe to student changes", "error", err)
		return
	}

	p.mu.Lock()
	if !p.mounted {
		p.mu.Unlock()
		unsubscribe()
		return
	}
	p.unsubscribe = unsubscribe
	p.mu.Unlock()
}

func (p *ListPanel) onChange(ch backend.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), feedRefetchTimeout)
	defer cancel()
	p.logger.DebugContext(ctx, "student change received", "type", ch.Type, "record_id", ch.RecordID)
	if err := p.Refetch(ctx); err != nil {
		p.logger.WarnContext(ctx, "refetch after change failed", "error", err)
	}
}

// SetPage moves to page, re-establishing the subscription and fetching it.
func (p *ListPanel) SetPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	p.mu.Lock()
	p.page = page
	p.mu.Unlock()

	p.resubscribe(ctx)
	return p.Refetch(ctx)
}

func (p *ListPanel) NextPage(ctx context.Context) error {
	s := p.State()
	if !s.HasNext {
		return nil
	}
	return p.SetPage(ctx, s.Page+1)
}

func (p *ListPanel) PrevPage(ctx context.Context) error {
	s := p.State()
	if !s.HasPrev {
		return nil
	}
	return p.SetPage(ctx, s.Page-1)
}

// Refetch loads the current page. A failure keeps the rows already shown.
func (p *ListPanel) Refetch(ctx context.Context) error {
	p.mu.Lock()
	p.latest++
	token := p.latest
	page := p.page
	p.loading = true
	p.mu.Unlock()

	result, err := p.client.SelectPage(ctx, record.Table, backend.PageQuery{
		OrderColumn: "created_at",
		Descending:  true,
		Offset:      (page - 1) * record.PageSize,
		Limit:       record.PageSize,
	})

	p.mu.Lock()
	if token != p.latest {
		p.mu.Unlock()
		return nil
	}
	p.loading = false
	if err != nil {
		p.mu.Unlock()
		p.sink.Notify(view.Failed(MsgLoadFailed + err.Error()))
		return err
	}
	p.rows = result.Rows
	p.total = result.Total
	pageCount := pageCount(result.Total)
	beyondEnd := len(result.Rows) == 0 && page > 1 && pageCount > 0 && page > pageCount
	p.mu.Unlock()

	p.metrics.Records.RecordListViewed(ctx)

	if beyondEnd {
		return p.SetPage(ctx, pageCount)
	}
	if p.opts.OnChange != nil {
		p.opts.OnChange(p.State())
	}
	return nil
}

// Find returns the row with id when it is on the current page.
func (p *ListPanel) Find(id uuid.UUID) (record.Student, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.rows {
		if r.ID == id {
			return r, true
		}
	}
	return record.Student{}, false
}

// SelectEdit opens the form for row.
func (p *ListPanel) SelectEdit(row record.Student) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.editing = &row
}

// EditSucceeded is the form's completion callback: it closes the editor and
// refetches.
func (p *ListPanel) EditSucceeded(ctx context.Context) error {
	p.mu.Lock()
	p.editing = nil
	p.mu.Unlock()
	return p.Refetch(ctx)
}

// CancelEdit closes the editor without saving.
func (p *ListPanel) CancelEdit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.editing = nil
}

// RequestDelete opens the confirmation step naming row.
func (p *ListPanel) RequestDelete(row record.Student) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleting = &row
}

// CancelDelete clears the pending deletion without calling the backend.
func (p *ListPanel) CancelDelete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleting = nil
}

// ConfirmDelete deletes the pending row, then clears the selection and
// refetches. On failure the selection stays so the user can retry.
func (p *ListPanel) ConfirmDelete(ctx context.Context) error {
	p.mu.Lock()
	target := p.deleting
	p.mu.Unlock()
	if target == nil {
		return ErrNoPendingDelete
	}

	if err := p.client.Delete(ctx, record.Table, target.ID); err != nil {
		p.sink.Notify(view.Failed(MsgDeleteFailed + err.Error()))
		return err
	}

	p.logger.InfoContext(ctx, "student deleted", "student_id", target.ID)
	p.metrics.Records.RecordStudentDeleted(ctx)
	p.sink.Notify(view.Succeeded(MsgDeleted))

	p.mu.Lock()
	p.deleting = nil
	p.mu.Unlock()
	return p.Refetch(ctx)
}

func (p *ListPanel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := State{
		Page:          p.page,
		PageSize:      record.PageSize,
		PageCount:     pageCount(p.total),
		Total:         p.total,
		Rows:          append([]record.Student{}, p.rows...),
		Loading:       p.loading,
		Editing:       p.editing,
		PendingDelete: p.deleting,
	}
	s.HasPrev = s.Page > 1
	s.HasNext = s.Page < s.PageCount
	if len(s.Rows) > 0 {
		s.RangeStart = (s.Page-1)*record.PageSize + 1
		s.RangeEnd = s.RangeStart + len(s.Rows) - 1
		s.RangeLabel = rangeLabel(s.RangeStart, s.RangeEnd, s.Total)
	} else if !s.Loading {
		s.EmptyMessage = MsgEmpty
	}
	return s
}

func pageCount(total int) int {
	return (total + record.PageSize - 1) / record.PageSize
}
