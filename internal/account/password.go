// Package account holds the signed-in user's account settings.
package account

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"student-records/internal/backend"
	"student-records/internal/busy"
	"student-records/internal/metrics"
	"student-records/internal/validation"
	"student-records/internal/view"
)

const (
	MsgUserNotFound     = "user not found"
	MsgCurrentIncorrect = "current password incorrect"
	MsgChangeFailed     = "failed to change password: "
	MsgChanged          = "password changed successfully"
)

// Options configures the busy flag, which spans the whole submit sequence.
type Options struct {
	Guard busy.Guard
	Key   string
}

// PasswordPanel changes the password after re-checking the current one.
type PasswordPanel struct {
	client  backend.Client
	sink    view.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	guard   busy.Guard
	key     string

	mu     sync.Mutex
	fields validation.Form
}

func NewPasswordPanel(client backend.Client, sink view.Sink, logger *slog.Logger, m *metrics.Metrics, opts Options) *PasswordPanel {
	guard := opts.Guard
	if guard == nil {
		guard = busy.NewMemory()
	}
	key := opts.Key
	if key == "" {
		key = busy.Key("password", "local")
	}
	return &PasswordPanel{
		client:  client,
		sink:    sink,
		logger:  logger,
		metrics: m,
		guard:   guard,
		key:     key,
		fields:  validation.Form{},
	}
}

// Fill replaces every field of the panel.
func (p *PasswordPanel) Fill(values validation.Form) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fields = validation.Form{}
	for k, v := range values {
		p.fields[k] = v
	}
}

func (p *PasswordPanel) Fields() validation.Form {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := validation.Form{}
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}

// Submit validates the form, signs in again with the current password and
// then sets the new one. The first failing step ends the sequence. Signing
// in again rotates the session.
func (p *PasswordPanel) Submit(ctx context.Context) error {
	release, err := p.guard.Acquire(ctx, p.key)
	if err != nil {
		if errors.Is(err, busy.ErrBusy) {
			p.sink.Notify(view.Notice{Level: view.Info, Message: err.Error()})
		}
		return err
	}
	defer release()

	in, err := validation.ChangePassword(p.Fields())
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			p.sink.Notify(view.Failed(verr.First().Message))
		}
		return err
	}

	sess, err := p.client.GetSession(ctx)
	if err != nil {
		p.fail(ctx, MsgChangeFailed+err.Error())
		return err
	}
	if sess == nil || sess.User.Email == "" {
		p.fail(ctx, MsgUserNotFound)
		return backend.ErrNotAuthenticated
	}
	email := sess.User.Email

	if _, err := p.client.SignInWithPassword(ctx, email, in.Current); err != nil {
		p.logger.WarnContext(ctx, "current password check failed", "email", email, "error", err)
		p.fail(ctx, MsgCurrentIncorrect)
		if backend.IsCode(err, backend.CodeInvalidCredentials) {
			return err
		}
		return backend.ErrInvalidCredentials
	}

	if err := p.client.UpdatePassword(ctx, in.New); err != nil {
		p.logger.WarnContext(ctx, "password update failed", "email", email, "error", err)
		p.fail(ctx, MsgChangeFailed+err.Error())
		return err
	}

	p.metrics.Records.RecordPasswordChange(ctx, true)
	p.logger.InfoContext(ctx, "password changed", "email", email)
	p.Fill(validation.Form{})
	p.sink.Notify(view.Succeeded(MsgChanged))
	return nil
}

func (p *PasswordPanel) fail(ctx context.Context, msg string) {
	p.metrics.Records.RecordPasswordChange(ctx, false)
	p.sink.Notify(view.Failed(msg))
}
