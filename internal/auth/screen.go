// Package auth implements the sign-in and sign-up screen.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"student-records/internal/backend"
	"student-records/internal/busy"
	"student-records/internal/metrics"
	"student-records/internal/validation"
	"student-records/internal/view"
)

const (
	MsgInvalidCredentials = "incorrect email or password"
	MsgAlreadyRegistered  = "this email is already registered"
	MsgSignInFailed       = "failed to sign in: "
	MsgSignUpFailed       = "failed to sign up: "
	MsgSignedIn           = "signed in successfully"
	MsgSignedUp           = "sign-up successful! you can now sign in"
)

type Options struct {
	Guard busy.Guard
	// RedirectTo is where a confirmation link sends the new user.
	RedirectTo string
}

// Screen holds the login and signup forms. The two forms share nothing.
type Screen struct {
	client     backend.Client
	sink       view.Sink
	logger     *slog.Logger
	metrics    *metrics.Metrics
	guard      busy.Guard
	redirectTo string

	mu          sync.Mutex
	login       validation.Form
	signup      validation.Form
	unsubscribe func()
}

func NewScreen(client backend.Client, sink view.Sink, logger *slog.Logger, m *metrics.Metrics, opts Options) *Screen {
	guard := opts.Guard
	if guard == nil {
		guard = busy.NewMemory()
	}
	return &Screen{
		client:     client,
		sink:       sink,
		logger:     logger,
		metrics:    m,
		guard:      guard,
		redirectTo: opts.RedirectTo,
		login:      validation.Form{},
		signup:     validation.Form{},
	}
}

// Mount sends a signed-in user to the dashboard, now or on the next session
// change.
func (s *Screen) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.client.OnSessionChange(func(ev backend.SessionEvent) {
			if ev.Session != nil && ev.Kind != backend.SignedOut {
				s.sink.Navigate(view.PathDashboard)
			}
		})
	}
	s.mu.Unlock()

	sess, err := s.client.GetSession(ctx)
	if err != nil {
		return err
	}
	if sess != nil {
		s.sink.Navigate(view.PathDashboard)
	}
	return nil
}

func (s *Screen) Unmount() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Login signs in with the login form values.
func (s *Screen) Login(ctx context.Context, form validation.Form) error {
	s.mu.Lock()
	s.login = copyForm(form)
	s.mu.Unlock()

	creds, err := validation.Login(form)
	if err != nil {
		s.notifyInvalid(err)
		return err
	}

	release, err := s.acquire(ctx, "login", creds.Email)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.client.SignInWithPassword(ctx, creds.Email, creds.Password); err != nil {
		s.metrics.Records.RecordSignIn(ctx, false)
		s.logger.WarnContext(ctx, "sign in failed", "email", creds.Email, "error", err)
		if backend.IsCode(err, backend.CodeInvalidCredentials) {
			s.sink.Notify(view.Failed(MsgInvalidCredentials))
		} else {
			s.sink.Notify(view.Failed(MsgSignInFailed + err.Error()))
		}
		return err
	}

	s.metrics.Records.RecordSignIn(ctx, true)
	s.logger.InfoContext(ctx, "user signed in", "email", creds.Email)
	s.sink.Notify(view.Succeeded(MsgSignedIn))
	s.sink.Navigate(view.PathDashboard)
	return nil
}

// Signup registers an account. It does not sign the user in.
func (s *Screen) Signup(ctx context.Context, form validation.Form) error {
	s.mu.Lock()
	s.signup = copyForm(form)
	s.mu.Unlock()

	in, err := validation.Signup(form)
	if err != nil {
		s.notifyInvalid(err)
		return err
	}

	release, err := s.acquire(ctx, "signup", in.Email)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.client.SignUp(ctx, in.Email, in.Password, backend.SignUpOptions{
		RedirectTo: s.redirectTo,
		Profile:    backend.Profile{FullName: in.FullName, Matricula: in.Matricula},
	})
	if err != nil {
		s.metrics.Records.RecordSignUp(ctx, false)
		s.logger.WarnContext(ctx, "sign up failed", "email", in.Email, "error", err)
		if backend.IsCode(err, backend.CodeUserAlreadyExists) {
			s.sink.Notify(view.Failed(MsgAlreadyRegistered))
		} else {
			s.sink.Notify(view.Failed(MsgSignUpFailed + err.Error()))
		}
		return err
	}

	s.metrics.Records.RecordSignUp(ctx, true)
	s.logger.InfoContext(ctx, "user signed up", "email", in.Email)

	s.mu.Lock()
	s.signup = validation.Form{}
	s.mu.Unlock()
	s.sink.Notify(view.Succeeded(MsgSignedUp))
	return nil
}

// LoginFields returns the last submitted login values.
func (s *Screen) LoginFields() validation.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyForm(s.login)
}

// SignupFields returns the signup values; empty after a successful signup.
func (s *Screen) SignupFields() validation.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyForm(s.signup)
}

func (s *Screen) acquire(ctx context.Context, form, email string) (func(), error) {
	release, err := s.guard.Acquire(ctx, busy.Key(form, strings.ToLower(email)))
	if errors.Is(err, busy.ErrBusy) {
		s.sink.Notify(view.Notice{Level: view.Info, Message: err.Error()})
	}
	return release, err
}

func (s *Screen) notifyInvalid(err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		s.sink.Notify(view.Failed(verr.First().Message))
	}
}

func copyForm(f validation.Form) validation.Form {
	out := validation.Form{}
	for k, v := range f {
		out[k] = v
	}
	return out
}
