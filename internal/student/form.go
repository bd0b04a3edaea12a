package student

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"student-records/internal/backend"
	"student-records/internal/busy"
	"student-records/internal/metrics"
	"student-records/internal/record"
	"student-records/internal/validation"
	"student-records/internal/view"
)

const (
	MsgDuplicate        = "email or enrollment number already registered"
	MsgSaveFailed       = "failed to save: "
	MsgCreated          = "student created successfully"
	MsgUpdated          = "student updated successfully"
	MsgNotAuthenticated = "user not authenticated"
)

// FormOptions configures the busy flag. Without a Guard the form only
// guards against resubmission on itself.
type FormOptions struct {
	Guard busy.Guard
	Key   string
}

// Form creates a student, or updates one when constructed with a record.
type Form struct {
	client  backend.Client
	sink    view.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	guard   busy.Guard
	key     string
	editing *record.Student

	mu     sync.Mutex
	fields validation.Form
}

func NewForm(client backend.Client, sink view.Sink, logger *slog.Logger, m *metrics.Metrics, editing *record.Student, opts FormOptions) *Form {
	guard := opts.Guard
	if guard == nil {
		guard = busy.NewMemory()
	}
	key := opts.Key
	if key == "" {
		key = busy.Key("student-form", "local")
	}

	f := &Form{
		client:  client,
		sink:    sink,
		logger:  logger,
		metrics: m,
		guard:   guard,
		key:     key,
		editing: editing,
		fields:  validation.Form{},
	}
	if editing != nil {
		f.fields = validation.Form{
			validation.FieldFullName:  editing.FullName,
			validation.FieldEmail:     editing.Email,
			validation.FieldMatricula: editing.Matricula,
		}
	}
	return f
}

func (f *Form) Set(field, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields[field] = value
}

// Fill replaces every field of the form.
func (f *Form) Fill(values validation.Form) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields = validation.Form{}
	for k, v := range values {
		f.fields[k] = v
	}
}

func (f *Form) Fields() validation.Form {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := validation.Form{}
	for k, v := range f.fields {
		out[k] = v
	}
	return out
}

func (f *Form) IsUpdate() bool {
	return f.editing != nil
}

// Submit validates and saves the form. onSuccess runs after a successful
// save; the fields are cleared only after a successful create.
func (f *Form) Submit(ctx context.Context, onSuccess func(ctx context.Context) error) (record.Student, error) {
	release, err := f.guard.Acquire(ctx, f.key)
	if err != nil {
		if errors.Is(err, busy.ErrBusy) {
			f.sink.Notify(view.Notice{Level: view.Info, Message: err.Error()})
		}
		return record.Student{}, err
	}
	defer release()

	fields, err := validation.Student(f.Fields())
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			f.sink.Notify(view.Failed(verr.First().Message))
		}
		return record.Student{}, err
	}

	saved, err := f.save(ctx, fields)
	if err != nil {
		f.sink.Notify(view.Failed(saveMessage(err)))
		return record.Student{}, err
	}

	if f.editing != nil {
		f.logger.InfoContext(ctx, "student updated", "student_id", saved.ID)
		f.metrics.Records.RecordStudentUpdated(ctx)
		f.sink.Notify(view.Succeeded(MsgUpdated))
	} else {
		f.logger.InfoContext(ctx, "student created", "student_id", saved.ID)
		f.metrics.Records.RecordStudentCreated(ctx)
		f.sink.Notify(view.Succeeded(MsgCreated))
		f.Fill(validation.Form{})
	}

	if onSuccess != nil {
		if err := onSuccess(ctx); err != nil {
			f.logger.WarnContext(ctx, "post-save callback failed", "error", err)
		}
	}
	return saved, nil
}

func (f *Form) save(ctx context.Context, fields record.Fields) (record.Student, error) {
	if f.editing != nil {
		return f.client.Update(ctx, record.Table, f.editing.ID, fields)
	}

	user, err := f.client.GetUser(ctx)
	if err != nil {
		return record.Student{}, err
	}
	if user == nil {
		return record.Student{}, backend.NewError(backend.CodeNotAuthenticated, MsgNotAuthenticated)
	}
	return f.client.Insert(ctx, record.Table, record.NewStudent(fields, user.ID))
}

func saveMessage(err error) string {
	if backend.IsCode(err, backend.CodeDuplicateKey) {
		return MsgDuplicate
	}
	if backend.IsCode(err, backend.CodeNotAuthenticated) {
		return MsgSaveFailed + MsgNotAuthenticated
	}
	return MsgSaveFailed + err.Error()
}
