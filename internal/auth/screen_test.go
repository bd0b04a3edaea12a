package auth_test

import (
	"context"
	"errors"
	"testing"

	"student-records/internal/auth"
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

func newScreen(fake *backendtest.Fake, opts auth.Options) (*auth.Screen, *view.Recorder) {
	rec := &view.Recorder{}
	return auth.NewScreen(fake, rec, logger.Discard(), metrics.NewMock(), opts), rec
}

func signupForm() validation.Form {
	return validation.Form{
		validation.FieldFullName:        "Ana Souza",
		validation.FieldEmail:           "ana@uni.edu",
		validation.FieldMatricula:       "2024001",
		validation.FieldPassword:        "Secret#123",
		validation.FieldConfirmPassword: "Secret#123",
	}
}

func TestScreen_Mount(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous stays", func(t *testing.T) {
		fake := backendtest.New()
		screen, rec := newScreen(fake, auth.Options{})
		require.NoError(t, screen.Mount(ctx))
		assert.Empty(t, rec.Redirects())
	})

	t.Run("signed in goes to dashboard", func(t *testing.T) {
		fake := backendtest.New()
		fake.SignedInAs("ana@uni.edu", "Secret#123")
		screen, rec := newScreen(fake, auth.Options{})
		require.NoError(t, screen.Mount(ctx))
		assert.Equal(t, view.PathDashboard, rec.Redirect())
	})

	t.Run("session change navigates", func(t *testing.T) {
		fake := backendtest.New()
		fake.AddUser("ana@uni.edu", "Secret#123", backend.Profile{})
		screen, rec := newScreen(fake, auth.Options{})
		require.NoError(t, screen.Mount(ctx))

		_, err := fake.SignInWithPassword(ctx, "ana@uni.edu", "Secret#123")
		require.NoError(t, err)
		assert.Equal(t, []string{view.PathDashboard}, rec.Redirects())

		screen.Unmount()
		require.NoError(t, fake.SignOut(ctx))
		_, err = fake.SignInWithPassword(ctx, "ana@uni.edu", "Secret#123")
		require.NoError(t, err)
		assert.Len(t, rec.Redirects(), 1, "no navigation after unmount")
	})
}

func TestScreen_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		fake := backendtest.New()
		fake.AddUser("ana@uni.edu", "Secret#123", backend.Profile{})
		screen, rec := newScreen(fake, auth.Options{})

		err := screen.Login(ctx, validation.Form{validation.FieldEmail: "ana@uni.edu", validation.FieldPassword: "Secret#123"})
		require.NoError(t, err)
		assert.Equal(t, view.Succeeded(auth.MsgSignedIn), *rec.Notice())
		assert.Equal(t, view.PathDashboard, rec.Redirect())

		sess, err := fake.GetSession(ctx)
		require.NoError(t, err)
		require.NotNil(t, sess)
	})

	t.Run("wrong password", func(t *testing.T) {
		fake := backendtest.New()
		fake.AddUser("ana@uni.edu", "Secret#123", backend.Profile{})
		screen, rec := newScreen(fake, auth.Options{})

		err := screen.Login(ctx, validation.Form{validation.FieldEmail: "ana@uni.edu", validation.FieldPassword: "nope"})
		assert.ErrorIs(t, err, backend.ErrInvalidCredentials)
		assert.Equal(t, view.Failed(auth.MsgInvalidCredentials), *rec.Notice())
		assert.Empty(t, rec.Redirects())
	})

	t.Run("other failure shows raw message", func(t *testing.T) {
		fake := backendtest.New()
		fake.Fail(backendtest.OpSignIn, backend.ErrEmailNotConfirmed)
		screen, rec := newScreen(fake, auth.Options{})

		err := screen.Login(ctx, validation.Form{validation.FieldEmail: "ana@uni.edu", validation.FieldPassword: "x"})
		require.Error(t, err)
		assert.Equal(t, view.Failed(auth.MsgSignInFailed+"Email not confirmed"), *rec.Notice())
	})

	t.Run("invalid form makes no call", func(t *testing.T) {
		fake := backendtest.New()
		screen, rec := newScreen(fake, auth.Options{})

		err := screen.Login(ctx, validation.Form{validation.FieldEmail: "nope"})
		require.Error(t, err)
		assert.Equal(t, view.Failed(validation.MsgInvalidEmail), *rec.Notice())
		assert.Equal(t, 0, fake.Calls(backendtest.OpSignIn))
		assert.Equal(t, "nope", screen.LoginFields()[validation.FieldEmail])
	})

	t.Run("busy", func(t *testing.T) {
		fake := backendtest.New()
		guard := busy.NewMemory()
		release, err := guard.Acquire(ctx, busy.Key("login", "ana@uni.edu"))
		require.NoError(t, err)
		defer release()

		screen, rec := newScreen(fake, auth.Options{Guard: guard})
		err = screen.Login(ctx, validation.Form{validation.FieldEmail: "Ana@Uni.edu", validation.FieldPassword: "x"})
		assert.ErrorIs(t, err, busy.ErrBusy)
		assert.Equal(t, view.Info, rec.Notice().Level)
		assert.Equal(t, 0, fake.Calls(backendtest.OpSignIn))
	})
}

func TestScreen_Signup(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		fake := backendtest.New()
		screen, rec := newScreen(fake, auth.Options{RedirectTo: "http://localhost:8080/dashboard"})

		require.NoError(t, screen.Signup(ctx, signupForm()))
		assert.Equal(t, view.Succeeded(auth.MsgSignedUp), *rec.Notice())
		assert.Empty(t, rec.Redirects(), "signup does not navigate")
		assert.Empty(t, screen.SignupFields())

		opts := fake.LastSignUp()
		assert.Equal(t, "http://localhost:8080/dashboard", opts.RedirectTo)
		assert.Equal(t, backend.Profile{FullName: "Ana Souza", Matricula: "2024001"}, opts.Profile)
		assert.Equal(t, "Secret#123", fake.Password("ana@uni.edu"))
	})

	t.Run("already registered", func(t *testing.T) {
		fake := backendtest.New()
		fake.AddUser("ana@uni.edu", "Other#123", backend.Profile{})
		screen, rec := newScreen(fake, auth.Options{})

		err := screen.Signup(ctx, signupForm())
		assert.ErrorIs(t, err, backend.ErrUserAlreadyExists)
		assert.Equal(t, view.Failed(auth.MsgAlreadyRegistered), *rec.Notice())
		assert.Equal(t, signupForm(), screen.SignupFields())
	})

	t.Run("backend failure", func(t *testing.T) {
		fake := backendtest.New()
		fake.Fail(backendtest.OpSignUp, backend.Wrap(errors.New("smtp unavailable")))
		screen, rec := newScreen(fake, auth.Options{})

		require.Error(t, screen.Signup(ctx, signupForm()))
		assert.Equal(t, view.Failed(auth.MsgSignUpFailed+"smtp unavailable"), *rec.Notice())
	})

	t.Run("confirmation mismatch", func(t *testing.T) {
		fake := backendtest.New()
		screen, rec := newScreen(fake, auth.Options{})
		form := signupForm()
		form[validation.FieldConfirmPassword] = "Secret#124"

		err := screen.Signup(ctx, form)
		var verr *validation.Error
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{validation.MsgPasswordMismatch}, verr.For(validation.FieldConfirmPassword))
		assert.Equal(t, view.Failed(validation.MsgPasswordMismatch), *rec.Notice())
		assert.Equal(t, 0, fake.Calls(backendtest.OpSignUp))
	})
}
