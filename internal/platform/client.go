package platform

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"student-records/internal/backend"
	"student-records/internal/changefeed"
	"student-records/internal/record"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// Client is a backend.Client bound to one browser session. It resolves the
// presented tokens lazily and keeps the resulting session in memory.
type Client struct {
	p *Platform

	resolveMu sync.Mutex

	mu        sync.Mutex
	tokens    Tokens
	session   *backend.Session
	resolved  bool
	listeners map[int]func(backend.SessionEvent)
	nextID    int
}

var _ backend.Client = (*Client)(nil)

func (c *Client) OnSessionChange(fn func(backend.SessionEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// setSession replaces the session and notifies listeners outside the lock.
func (c *Client) setSession(kind backend.EventKind, s *backend.Session) {
	c.mu.Lock()
	c.session = s
	c.resolved = true
	if s != nil {
		c.tokens = Tokens{Access: s.AccessToken, Refresh: s.RefreshToken}
	} else {
		c.tokens = Tokens{}
	}
	fns := make([]func(backend.SessionEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	var ev backend.SessionEvent
	ev.Kind = kind
	if s != nil {
		cp := *s
		ev.Session = &cp
	}
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) GetSession(ctx context.Context) (*backend.Session, error) {
	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()

	c.mu.Lock()
	if c.resolved {
		s := c.session
		c.mu.Unlock()
		return copySession(s), nil
	}
	tokens := c.tokens
	c.mu.Unlock()

	if tokens.Access != "" {
		if claims, userID, err := c.p.issuer.parse(tokens.Access, purposeAccess); err == nil {
			u, err := c.p.store.userByID(ctx, userID)
			switch {
			case err == nil:
				s := &backend.Session{
					AccessToken:  tokens.Access,
					RefreshToken: tokens.Refresh,
					ExpiresAt:    claims.ExpiresAt.Time,
					User:         u.toUser(),
				}
				c.mu.Lock()
				c.session, c.resolved = s, true
				c.mu.Unlock()
				return copySession(s), nil
			case !errors.Is(err, sql.ErrNoRows):
				return nil, backend.Wrap(err)
			}
		}
	}

	if tokens.Refresh != "" {
		userID, err := c.p.store.takeRefreshToken(ctx, tokens.Refresh, c.p.now())
		if err == nil {
			u, err := c.p.store.userByID(ctx, userID)
			if err != nil {
				return nil, backend.Wrap(err)
			}
			s, err := c.p.newSession(ctx, u)
			if err != nil {
				return nil, backend.Wrap(err)
			}
			c.setSession(backend.TokenRefreshed, s)
			return copySession(s), nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, backend.Wrap(err)
		}
	}

	if tokens.Access != "" || tokens.Refresh != "" {
		// Stale credentials: report a sign-out so cookies get cleared.
		c.setSession(backend.SignedOut, nil)
		return nil, nil
	}

	c.mu.Lock()
	c.resolved = true
	c.mu.Unlock()
	return nil, nil
}

func (c *Client) currentUserID(ctx context.Context) (uuid.UUID, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if s == nil {
		return uuid.Nil, backend.ErrNotAuthenticated
	}
	return s.User.ID, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string, opts backend.SignUpOptions) (*backend.User, error) {
	if len(password) < minPasswordLength {
		return nil, backend.NewError(backend.CodeWeakPassword, "Password should be at least 6 characters.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.p.bcryptCost)
	if err != nil {
		return nil, backend.Wrap(err)
	}

	u := &userRow{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: string(hash),
		Profile:      opts.Profile,
	}
	if !c.p.auth.RequireEmailConfirmation {
		u.ConfirmedAt = c.p.now()
	}

	if err := c.p.store.createUser(ctx, u); err != nil {
		if _, ok := constraintOf(err); ok {
			return nil, backend.ErrUserAlreadyExists
		}
		return nil, backend.Wrap(err)
	}
	c.p.logger.InfoContext(ctx, "user signed up", "user_id", u.ID, "email", u.Email)

	if c.p.auth.RequireEmailConfirmation {
		if err := c.p.sendConfirmation(ctx, u, opts.RedirectTo); err != nil {
			c.p.logger.ErrorContext(ctx, "failed to send confirmation email", "user_id", u.ID, "error", err)
			return nil, backend.NewError(backend.CodeTransport, "Error sending confirmation email")
		}
	}

	out := u.toUser()
	return &out, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	u, err := c.p.store.userByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrInvalidCredentials
		}
		return nil, backend.Wrap(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, backend.ErrInvalidCredentials
	}
	if c.p.auth.RequireEmailConfirmation && u.ConfirmedAt.IsZero() {
		return nil, backend.ErrEmailNotConfirmed
	}

	c.mu.Lock()
	previous := c.tokens.Refresh
	c.mu.Unlock()
	if previous != "" {
		if err := c.p.store.deleteRefreshToken(ctx, previous); err != nil {
			c.p.logger.WarnContext(ctx, "failed to revoke previous refresh token", "error", err)
		}
	}

	s, err := c.p.newSession(ctx, u)
	if err != nil {
		return nil, backend.Wrap(err)
	}
	c.setSession(backend.SignedIn, s)
	return copySession(s), nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.tokens.Refresh
	c.mu.Unlock()

	if refresh != "" {
		if err := c.p.store.deleteRefreshToken(ctx, refresh); err != nil {
			return backend.Wrap(err)
		}
	}
	c.setSession(backend.SignedOut, nil)
	return nil
}

func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	s, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return backend.ErrNotAuthenticated
	}
	if len(newPassword) < minPasswordLength {
		return backend.NewError(backend.CodeWeakPassword, "Password should be at least 6 characters.")
	}

	u, err := c.p.store.userByID(ctx, s.User.ID)
	if err != nil {
		return backend.Wrap(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(newPassword)) == nil {
		return backend.ErrSamePassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), c.p.bcryptCost)
	if err != nil {
		return backend.Wrap(err)
	}
	if err := c.p.store.setPassword(ctx, u.ID, string(hash)); err != nil {
		return backend.Wrap(err)
	}
	c.p.logger.InfoContext(ctx, "password updated", "user_id", u.ID)

	c.setSession(backend.UserUpdated, s)
	return nil
}

func (c *Client) GetUser(ctx context.Context) (*backend.User, error) {
	id, err := c.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	u, err := c.p.store.userByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNotAuthenticated
		}
		return nil, backend.Wrap(err)
	}
	out := u.toUser()
	return &out, nil
}

func (c *Client) SelectPage(ctx context.Context, table string, q backend.PageQuery) (backend.Page, error) {
	if table != record.Table {
		return backend.Page{}, backend.UnknownTable(table)
	}
	if !orderColumns[q.OrderColumn] {
		return backend.Page{}, backend.NewError(backend.CodeTransport, "column "+table+"."+q.OrderColumn+" does not exist")
	}
	if q.Offset < 0 || q.Limit <= 0 {
		return backend.Page{}, backend.NewError(backend.CodeTransport, "Requested range not satisfiable")
	}
	owner, err := c.currentUserID(ctx)
	if err != nil {
		return backend.Page{}, err
	}

	page, err := c.p.store.selectStudents(ctx, owner, q)
	if err != nil {
		return backend.Page{}, backend.Wrap(err)
	}
	return page, nil
}

func (c *Client) Insert(ctx context.Context, table string, row record.Student) (record.Student, error) {
	if table != record.Table {
		return record.Student{}, backend.UnknownTable(table)
	}
	owner, err := c.currentUserID(ctx)
	if err != nil {
		return record.Student{}, err
	}
	if row.UserID != owner {
		return record.Student{}, backend.PolicyViolation(table)
	}

	row.ID = uuid.New()
	row.CreatedAt = time.Time{}
	if err := c.p.store.insertStudent(ctx, &row); err != nil {
		return record.Student{}, writeError(err)
	}

	c.p.publish(ctx, changefeed.Event{Table: table, Type: changefeed.Insert, RecordID: row.ID, OwnerID: owner})
	return row, nil
}

func (c *Client) Update(ctx context.Context, table string, id uuid.UUID, patch record.Fields) (record.Student, error) {
	if table != record.Table {
		return record.Student{}, backend.UnknownTable(table)
	}
	owner, err := c.currentUserID(ctx)
	if err != nil {
		return record.Student{}, err
	}

	row, err := c.p.store.updateStudent(ctx, owner, id, patch)
	if err != nil {
		return record.Student{}, writeError(err)
	}

	c.p.publish(ctx, changefeed.Event{Table: table, Type: changefeed.Update, RecordID: id, OwnerID: owner})
	return row, nil
}

func (c *Client) Delete(ctx context.Context, table string, id uuid.UUID) error {
	if table != record.Table {
		return backend.UnknownTable(table)
	}
	owner, err := c.currentUserID(ctx)
	if err != nil {
		return err
	}

	if err := c.p.store.deleteStudent(ctx, owner, id); err != nil {
		return writeError(err)
	}

	c.p.publish(ctx, changefeed.Event{Table: table, Type: changefeed.Delete, RecordID: id, OwnerID: owner})
	return nil
}

// SubscribeToTableChanges delivers changes to rows owned by the session user.
func (c *Client) SubscribeToTableChanges(table string, fn func(backend.Change)) (func(), error) {
	if table != record.Table {
		return nil, backend.UnknownTable(table)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	owner, err := c.currentUserID(ctx)
	if err != nil {
		return nil, err
	}

	return c.p.hub.Subscribe(table, func(ev changefeed.Event) {
		if ev.OwnerID != owner {
			return
		}
		fn(backend.Change{Table: ev.Table, Type: backend.ChangeType(ev.Type), RecordID: ev.RecordID})
	}), nil
}

func (p *Platform) newSession(ctx context.Context, u *userRow) (*backend.Session, error) {
	access, exp, err := p.issuer.accessToken(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := p.store.createRefreshToken(ctx, u.ID, refresh, p.now().Add(p.auth.RefreshTTL)); err != nil {
		return nil, err
	}
	return &backend.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		User:         u.toUser(),
	}, nil
}

func writeError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return backend.ErrNotFound
	}
	if constraint, ok := constraintOf(err); ok {
		return backend.DuplicateKey(constraint)
	}
	return backend.Wrap(err)
}

func copySession(s *backend.Session) *backend.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func mailAddress(u *userRow) mail.Address {
	return mail.Address{Name: u.Profile.FullName, Address: u.Email}
}
