package student_test

import (
	"context"
	"errors"
	"testing"

	"student-records/internal/backend"
	"student-records/internal/backend/backendtest"
	"student-records/internal/busy"
	"student-records/internal/logger"
	"student-records/internal/metrics"
	"student-records/internal/record"
	"student-records/internal/student"
	"student-records/internal/validation"
	"student-records/internal/view"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() validation.Form {
	return validation.Form{
		validation.FieldFullName:  "Ana Souza",
		validation.FieldEmail:     "ana@uni.edu",
		validation.FieldMatricula: "2024001",
	}
}

func newForm(f *backendtest.Fake, editing *record.Student, opts student.FormOptions) (*student.Form, *view.Recorder) {
	rec := &view.Recorder{}
	return student.NewForm(f, rec, logger.Discard(), metrics.NewMock(), editing, opts), rec
}

func TestForm_Create(t *testing.T) {
	ctx := context.Background()
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	seedStudents(fake, user.ID, 10)

	panel, _ := newPanel(fake, student.ListOptions{Live: true})
	require.NoError(t, panel.Mount(ctx, 1))

	form, rec := newForm(fake, nil, student.FormOptions{})
	assert.False(t, form.IsUpdate())
	form.Fill(validForm())

	saved, err := form.Submit(ctx, panel.Refetch)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.Equal(t, user.ID, saved.UserID)
	assert.Equal(t, "Ana Souza", saved.FullName)
	assert.Equal(t, view.Succeeded(student.MsgCreated), *rec.Notice())
	assert.Empty(t, form.Fields(), "fields reset after create")

	s := panel.State()
	assert.Equal(t, 11, s.Total)
	assert.Equal(t, saved.ID, s.Rows[0].ID, "new row shown first")
	assert.Equal(t, 2, s.PageCount)
}

func TestForm_ValidationStopsSubmit(t *testing.T) {
	fake := backendtest.New()
	fake.SignedInAs("owner@uni.edu", "Secret#123")

	form, rec := newForm(fake, nil, student.FormOptions{})
	form.Fill(validForm())
	form.Set(validation.FieldFullName, "Al")

	_, err := form.Submit(context.Background(), nil)

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, view.Failed(validation.MsgNameTooShort), *rec.Notice())
	assert.Equal(t, 0, fake.Calls(backendtest.OpInsert))
	assert.Equal(t, "Al", form.Fields()[validation.FieldFullName])
}

func TestForm_Duplicate(t *testing.T) {
	ctx := context.Background()
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	fake.Seed(record.Student{FullName: "Ana Souza", Email: "ana@uni.edu", Matricula: "9999999", UserID: user.ID})

	panel, _ := newPanel(fake, student.ListOptions{})
	require.NoError(t, panel.Mount(ctx, 1))

	form, rec := newForm(fake, nil, student.FormOptions{})
	form.Fill(validForm())

	refetched := false
	_, err := form.Submit(ctx, func(ctx context.Context) error {
		refetched = true
		return panel.Refetch(ctx)
	})

	assert.True(t, backend.IsCode(err, backend.CodeDuplicateKey))
	assert.Equal(t, view.Failed(student.MsgDuplicate), *rec.Notice())
	assert.False(t, refetched)
	assert.Equal(t, validForm(), form.Fields(), "fields kept for correction")
	assert.Equal(t, 1, panel.State().Total)
}

func TestForm_DuplicateEmailDifferentCase(t *testing.T) {
	ctx := context.Background()
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	fake.Seed(record.Student{FullName: "Ana Souza", Email: "ana@uni.edu", Matricula: "9999999", UserID: user.ID})

	form, rec := newForm(fake, nil, student.FormOptions{})
	values := validForm()
	values[validation.FieldEmail] = "Ana@UNI.edu"
	form.Fill(values)

	_, err := form.Submit(ctx, nil)

	assert.True(t, backend.IsCode(err, backend.CodeDuplicateKey))
	assert.Equal(t, view.Failed(student.MsgDuplicate), *rec.Notice())
	assert.Equal(t, 1, fake.Calls(backendtest.OpInsert))
}

func TestForm_StoresLowercasedEmail(t *testing.T) {
	ctx := context.Background()
	fake := backendtest.New()
	fake.SignedInAs("owner@uni.edu", "Secret#123")

	form, _ := newForm(fake, nil, student.FormOptions{})
	values := validForm()
	values[validation.FieldEmail] = "  Ana@UNI.edu "
	form.Fill(values)

	saved, err := form.Submit(ctx, nil)
	require.NoError(t, err)

	stored, ok := fake.Row(saved.ID)
	require.True(t, ok)
	assert.Equal(t, "ana@uni.edu", stored.Email)
}

func TestForm_SaveFailure(t *testing.T) {
	fake := backendtest.New()
	fake.SignedInAs("owner@uni.edu", "Secret#123")
	fake.Fail(backendtest.OpInsert, backend.Wrap(errors.New("network unreachable")))

	form, rec := newForm(fake, nil, student.FormOptions{})
	form.Fill(validForm())

	_, err := form.Submit(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, view.Failed(student.MsgSaveFailed+"network unreachable"), *rec.Notice())
}

func TestForm_NotAuthenticated(t *testing.T) {
	fake := backendtest.New()

	form, rec := newForm(fake, nil, student.FormOptions{})
	form.Fill(validForm())

	_, err := form.Submit(context.Background(), nil)
	assert.True(t, backend.IsCode(err, backend.CodeNotAuthenticated))
	assert.Equal(t, view.Failed(student.MsgSaveFailed+student.MsgNotAuthenticated), *rec.Notice())
	assert.Equal(t, 0, fake.Calls(backendtest.OpInsert))
}

func TestForm_Update(t *testing.T) {
	ctx := context.Background()
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	rows := seedStudents(fake, user.ID, 2)

	t.Run("prefilled and idempotent", func(t *testing.T) {
		form, rec := newForm(fake, &rows[0], student.FormOptions{})
		assert.True(t, form.IsUpdate())
		assert.Equal(t, rows[0].Email, form.Fields()[validation.FieldEmail])

		saved, err := form.Submit(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, rows[0].Fields(), saved.Fields())
		assert.Equal(t, view.Succeeded(student.MsgUpdated), *rec.Notice())
		assert.NotEmpty(t, form.Fields(), "fields kept after update")
	})

	t.Run("changes name", func(t *testing.T) {
		form, _ := newForm(fake, &rows[1], student.FormOptions{})
		form.Set(validation.FieldFullName, "Renamed Person")

		saved, err := form.Submit(ctx, nil)
		require.NoError(t, err)

		stored, ok := fake.Row(rows[1].ID)
		require.True(t, ok)
		assert.Equal(t, "Renamed Person", stored.FullName)
		assert.Equal(t, rows[1].CreatedAt, saved.CreatedAt)
		assert.Equal(t, rows[1].UserID, saved.UserID)
	})

	t.Run("conflicts with another row", func(t *testing.T) {
		form, rec := newForm(fake, &rows[1], student.FormOptions{})
		form.Set(validation.FieldEmail, rows[0].Email)

		_, err := form.Submit(ctx, nil)
		require.Error(t, err)
		assert.Equal(t, view.Failed(student.MsgDuplicate), *rec.Notice())
	})
}

func TestForm_Busy(t *testing.T) {
	ctx := context.Background()
	fake := backendtest.New()
	fake.SignedInAs("owner@uni.edu", "Secret#123")

	guard := busy.NewMemory()
	key := busy.Key("student-form", "owner")
	release, err := guard.Acquire(ctx, key)
	require.NoError(t, err)

	form, rec := newForm(fake, nil, student.FormOptions{Guard: guard, Key: key})
	form.Fill(validForm())

	_, err = form.Submit(ctx, nil)
	assert.ErrorIs(t, err, busy.ErrBusy)
	assert.Equal(t, view.Info, rec.Notice().Level)
	assert.Equal(t, 0, fake.Calls(backendtest.OpInsert))

	release()
	_, err = form.Submit(ctx, nil)
	require.NoError(t, err)
	assert.False(t, guard.Held(key), "claim released after submit")
}
