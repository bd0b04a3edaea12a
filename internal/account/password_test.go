package account_test

import (
	"context"
	"errors"
	"testing"

	"student-records/internal/account"
	"student-records/internal/backend"
	"student-records/internal/backend/backendtest"
	"student-records/internal/busy"
	"student-records/internal/logger"
	"student-records/internal/metrics"
	"student-records/internal/validation"
	"student-records/internal/view"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPanel(fake *backendtest.Fake, opts account.Options) (*account.PasswordPanel, *view.Recorder) {
	rec := &view.Recorder{}
	return account.NewPasswordPanel(fake, rec, logger.Discard(), metrics.NewMock(), opts), rec
}

func changeForm(current, next, confirm string) validation.Form {
	return validation.Form{
		validation.FieldCurrentPassword: current,
		validation.FieldNewPassword:     next,
		validation.FieldConfirmPassword: confirm,
	}
}

func TestPasswordPanel_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		fake := backendtest.New()
		fake.SignedInAs("ana@uni.edu", "Secret#123")
		panel, rec := newPanel(fake, account.Options{})
		panel.Fill(changeForm("Secret#123", "Better#456", "Better#456"))

		require.NoError(t, panel.Submit(ctx))
		assert.Equal(t, "Better#456", fake.Password("ana@uni.edu"))
		assert.Equal(t, view.Succeeded(account.MsgChanged), *rec.Notice())
		assert.Empty(t, panel.Fields())
		assert.Equal(t, 1, fake.Calls(backendtest.OpSignIn))
	})

	t.Run("wrong current password", func(t *testing.T) {
		fake := backendtest.New()
		fake.SignedInAs("ana@uni.edu", "Secret#123")
		panel, rec := newPanel(fake, account.Options{})
		panel.Fill(changeForm("Wrong#123", "Better#456", "Better#456"))

		require.Error(t, panel.Submit(ctx))
		assert.Equal(t, view.Failed(account.MsgCurrentIncorrect), *rec.Notice())
		assert.Equal(t, 0, fake.Calls(backendtest.OpUpdatePassword))
		assert.Equal(t, "Secret#123", fake.Password("ana@uni.edu"))
		assert.NotEmpty(t, panel.Fields())
	})

	t.Run("reauthentication failure is reported as incorrect password", func(t *testing.T) {
		fake := backendtest.New()
		fake.SignedInAs("ana@uni.edu", "Secret#123")
		fake.Fail(backendtest.OpSignIn, backend.Wrap(errors.New("rate limited")))
		panel, rec := newPanel(fake, account.Options{})
		panel.Fill(changeForm("Secret#123", "Better#456", "Better#456"))

		err := panel.Submit(ctx)
		assert.ErrorIs(t, err, backend.ErrInvalidCredentials)
		assert.Equal(t, view.Failed(account.MsgCurrentIncorrect), *rec.Notice())
	})

	t.Run("no session", func(t *testing.T) {
		fake := backendtest.New()
		panel, rec := newPanel(fake, account.Options{})
		panel.Fill(changeForm("Secret#123", "Better#456", "Better#456"))

		require.Error(t, panel.Submit(ctx))
		assert.Equal(t, view.Failed(account.MsgUserNotFound), *rec.Notice())
		assert.Equal(t, 0, fake.Calls(backendtest.OpSignIn))
	})

	t.Run("update failure", func(t *testing.T) {
		fake := backendtest.New()
		fake.SignedInAs("ana@uni.edu", "Secret#123")
		panel, rec := newPanel(fake, account.Options{})
		panel.Fill(changeForm("Secret#123", "Secret#123", "Secret#123"))

		err := panel.Submit(ctx)
		assert.ErrorIs(t, err, backend.ErrSamePassword)
		assert.Equal(t, view.Failed(account.MsgChangeFailed+backend.ErrSamePassword.Message), *rec.Notice())
	})

	t.Run("validation", func(t *testing.T) {
		fake := backendtest.New()
		fake.SignedInAs("ana@uni.edu", "Secret#123")
		panel, rec := newPanel(fake, account.Options{})

		tests := []struct {
			name string
			form validation.Form
			want string
		}{
			{"missing current", changeForm("", "Better#456", "Better#456"), validation.MsgCurrentRequired},
			{"weak new", changeForm("Secret#123", "short", "short"), validation.MsgPasswordTooShort},
			{"no digit", changeForm("Secret#123", "Better#abc", "Better#abc"), validation.MsgPasswordNoDigit},
			{"mismatch", changeForm("Secret#123", "Better#456", "Better#457"), validation.MsgPasswordMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				panel.Fill(tt.form)
				require.Error(t, panel.Submit(ctx))
				assert.Equal(t, view.Failed(tt.want), *rec.Notice())
			})
		}
		assert.Equal(t, 0, fake.Calls(backendtest.OpGetSession))
	})

	t.Run("busy", func(t *testing.T) {
		fake := backendtest.New()
		fake.SignedInAs("ana@uni.edu", "Secret#123")
		guard := busy.NewMemory()
		key := busy.Key("password", "ana")
		release, err := guard.Acquire(ctx, key)
		require.NoError(t, err)

		panel, rec := newPanel(fake, account.Options{Guard: guard, Key: key})
		panel.Fill(changeForm("Secret#123", "Better#456", "Better#456"))
		assert.ErrorIs(t, panel.Submit(ctx), busy.ErrBusy)
		assert.Equal(t, view.Info, rec.Notice().Level)

		release()
		require.NoError(t, panel.Submit(ctx))
		assert.False(t, guard.Held(key))
	})
}
