// Package platform is the managed backend behind backend.Client: password
// accounts with JWT sessions, the students table guarded by an owner-only row
// policy, and a change feed published on every committed write.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"student-records/internal/backend"
	"student-records/internal/changefeed"
	"student-records/internal/config"
	"student-records/internal/mail"
	"student-records/internal/metrics"

	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

type Options struct {
	DB        *bun.DB
	Publisher changefeed.Publisher
	Hub       *changefeed.Hub
	Mailer    mail.Sender
	Auth      config.AuthConfig
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Platform is the process-wide backend handle. It is safe for concurrent use
// and hands out one Client per browser session.
type Platform struct {
	store      *store
	publisher  changefeed.Publisher
	hub        *changefeed.Hub
	mailer     mail.Sender
	auth       config.AuthConfig
	issuer     *issuer
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	bcryptCost int
}

func New(opts Options) *Platform {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	accessTTL := opts.Auth.AccessTTL
	if accessTTL == 0 {
		accessTTL = 15 * time.Minute
	}
	if opts.Auth.RefreshTTL == 0 {
		opts.Auth.RefreshTTL = 7 * 24 * time.Hour
	}

	return &Platform{
		store:     &store{db: opts.DB, metrics: opts.Metrics},
		publisher: opts.Publisher,
		hub:       opts.Hub,
		mailer:    opts.Mailer,
		auth:      opts.Auth,
		issuer: &issuer{
			secret:    []byte(opts.Auth.JWTSecret),
			accessTTL: accessTTL,
			now:       now,
		},
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        now,
		bcryptCost: cost,
	}
}

// Tokens are the credentials a browser presents, usually read from cookies.
type Tokens struct {
	Access  string
	Refresh string
}

// Client returns a backend handle for the session identified by t.
func (p *Platform) Client(t Tokens) *Client {
	return &Client{
		p:         p,
		tokens:    t,
		listeners: make(map[int]func(backend.SessionEvent)),
	}
}

// Ping checks database connectivity.
func (p *Platform) Ping(ctx context.Context) error {
	return p.store.db.PingContext(ctx)
}

// ConfirmEmail marks the account named by a confirmation token as confirmed
// and returns where to send the browser next.
func (p *Platform) ConfirmEmail(ctx context.Context, token string) (string, error) {
	c, userID, err := p.issuer.parse(token, purposeConfirm)
	if err != nil {
		return "", backend.NewError(backend.CodeNotFound, "Email link is invalid or has expired")
	}
	if err := p.store.confirmUser(ctx, userID, p.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", backend.ErrNotFound
		}
		return "", backend.Wrap(err)
	}

	p.logger.InfoContext(ctx, "email confirmed", "user_id", userID)

	if c.RedirectTo != "" {
		return c.RedirectTo, nil
	}
	return strings.TrimRight(p.auth.SiteURL, "/") + "/dashboard", nil
}

func (p *Platform) sendConfirmation(ctx context.Context, u *userRow, redirectTo string) error {
	token, err := p.issuer.confirmationToken(u.ID, u.Email, redirectTo)
	if err != nil {
		return err
	}
	link := fmt.Sprintf("%s/auth/confirm?token=%s", strings.TrimRight(p.auth.SiteURL, "/"), url.QueryEscape(token))

	return p.mailer.Send(ctx, mail.Message{
		To:          mailAddress(u),
		Subject:     "Confirm your sign-up",
		TextContent: "Follow this link to confirm your account:\n\n" + link,
		HTMLContent: `<p>Follow this link to confirm your account:</p><p><a href="` + link + `">Confirm your email</a></p>`,
	})
}

// publish announces a committed change. A failed publish does not undo the
// write; it is logged and subscribers miss one refresh.
func (p *Platform) publish(ctx context.Context, ev changefeed.Event) {
	ev.CommitTimestamp = p.now().UTC()
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish change event",
			"table", ev.Table,
			"type", ev.Type,
			"record_id", ev.RecordID,
			"error", err,
		)
	}
}
