// Package backendtest provides an in-memory backend.Client for component tests.
package backendtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"student-records/internal/backend"
	"student-records/internal/record"

	"github.com/google/uuid"
)

// Operation names accepted by Fail and Calls.
const (
	OpGetSession     = "getSession"
	OpSignUp         = "signUp"
	OpSignIn         = "signInWithPassword"
	OpSignOut        = "signOut"
	OpUpdatePassword = "updatePassword"
	OpGetUser        = "getUser"
	OpSelectPage     = "selectPage"
	OpInsert         = "insert"
	OpUpdate         = "update"
	OpDelete         = "delete"
	OpSubscribe      = "subscribeToTableChanges"
)

type account struct {
	user     backend.User
	password string
}

// Fake is a single-session backend holding users and student rows in memory.
// Notifications and session events are delivered synchronously after the
// triggering call releases its lock.
type Fake struct {
	mu           sync.Mutex
	accounts     map[string]*account
	rows         map[uuid.UUID]record.Student
	session      *backend.Session
	clock        time.Time
	calls        map[string]int
	failures     map[string]error
	sessionSubs  map[int]func(backend.SessionEvent)
	tableSubs    map[int]tableSub
	nextSubID    int
	lastSignUp   backend.SignUpOptions
	beforeSelect func(q backend.PageQuery)
}

type tableSub struct {
	table string
	fn    func(backend.Change)
}

var _ backend.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		accounts:    make(map[string]*account),
		rows:        make(map[uuid.UUID]record.Student),
		clock:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		calls:       make(map[string]int),
		failures:    make(map[string]error),
		sessionSubs: make(map[int]func(backend.SessionEvent)),
		tableSubs:   make(map[int]tableSub),
	}
}

// AddUser registers an account without signing in.
func (f *Fake) AddUser(email, password string, profile backend.Profile) backend.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addUserLocked(email, password, profile)
}

func (f *Fake) addUserLocked(email, password string, profile backend.Profile) backend.User {
	u := backend.User{ID: uuid.New(), Email: email, Profile: profile, CreatedAt: f.tick()}
	f.accounts[email] = &account{user: u, password: password}
	return u
}

// SignedInAs registers an account and makes it the current session.
func (f *Fake) SignedInAs(email, password string) backend.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.addUserLocked(email, password, backend.Profile{})
	f.session = f.newSession(u)
	return u
}

// ExpireSessionAt moves the expiry of the current session.
func (f *Fake) ExpireSessionAt(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil {
		f.session.ExpiresAt = at
	}
}

// Seed stores rows as-is, assigning ids and increasing creation times when unset.
func (f *Fake) Seed(rows ...record.Student) []record.Student {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]record.Student, 0, len(rows))
	for _, r := range rows {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = f.tick()
		}
		f.rows[r.ID] = r
		out = append(out, r)
	}
	return out
}

// Row returns the stored row with id.
func (f *Fake) Row(id uuid.UUID) (record.Student, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	return r, ok
}

// Password returns the stored password of email.
func (f *Fake) Password(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[email]; ok {
		return a.password
	}
	return ""
}

// Fail makes the next call of op return err.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Calls reports how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// LastSignUp returns the options of the latest SignUp call.
func (f *Fake) LastSignUp() backend.SignUpOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSignUp
}

// BeforeSelect installs a hook run at the start of every SelectPage, outside the lock.
func (f *Fake) BeforeSelect(fn func(q backend.PageQuery)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSelect = fn
}

// ActiveSubscriptions reports live table subscriptions.
func (f *Fake) ActiveSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tableSubs)
}

// Emit delivers change to table subscribers as if another client made it.
func (f *Fake) Emit(change backend.Change) {
	f.notifyTable(change)
}

func (f *Fake) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *Fake) newSession(u backend.User) *backend.Session {
	return &backend.Session{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         u,
	}
}

// enter counts the call and pops a scheduled failure. Caller holds mu.
func (f *Fake) enter(op string) error {
	f.calls[op]++
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	return nil
}

func (f *Fake) notifySession(ev backend.SessionEvent) {
	f.mu.Lock()
	subs := make([]func(backend.SessionEvent), 0, len(f.sessionSubs))
	for _, fn := range f.sessionSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (f *Fake) notifyTable(change backend.Change) {
	f.mu.Lock()
	var subs []func(backend.Change)
	for _, s := range f.tableSubs {
		if s.table == change.Table {
			subs = append(subs, s.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
}

func (f *Fake) GetSession(ctx context.Context) (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpGetSession); err != nil {
		return nil, err
	}
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *Fake) OnSessionChange(fn func(backend.SessionEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSubID++
	id := f.nextSubID
	f.sessionSubs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.sessionSubs, id)
	}
}

func (f *Fake) SignUp(ctx context.Context, email, password string, opts backend.SignUpOptions) (*backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSignUp = opts
	if err := f.enter(OpSignUp); err != nil {
		return nil, err
	}
	if _, ok := f.accounts[email]; ok {
		return nil, backend.ErrUserAlreadyExists
	}
	u := f.addUserLocked(email, password, opts.Profile)
	return &u, nil
}

func (f *Fake) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	f.mu.Lock()
	if err := f.enter(OpSignIn); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	a, ok := f.accounts[email]
	if !ok || a.password != password {
		f.mu.Unlock()
		return nil, backend.ErrInvalidCredentials
	}
	f.session = f.newSession(a.user)
	s := *f.session
	f.mu.Unlock()

	f.notifySession(backend.SessionEvent{Kind: backend.SignedIn, Session: &s})
	return &s, nil
}

func (f *Fake) SignOut(ctx context.Context) error {
	f.mu.Lock()
	if err := f.enter(OpSignOut); err != nil {
		f.mu.Unlock()
		return err
	}
	f.session = nil
	f.mu.Unlock()

	f.notifySession(backend.SessionEvent{Kind: backend.SignedOut})
	return nil
}

func (f *Fake) UpdatePassword(ctx context.Context, newPassword string) error {
	f.mu.Lock()
	if err := f.enter(OpUpdatePassword); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.session == nil {
		f.mu.Unlock()
		return backend.ErrNotAuthenticated
	}
	a := f.accounts[f.session.User.Email]
	if a.password == newPassword {
		f.mu.Unlock()
		return backend.ErrSamePassword
	}
	a.password = newPassword
	s := *f.session
	f.mu.Unlock()

	f.notifySession(backend.SessionEvent{Kind: backend.UserUpdated, Session: &s})
	return nil
}

func (f *Fake) GetUser(ctx context.Context) (*backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpGetUser); err != nil {
		return nil, err
	}
	if f.session == nil {
		return nil, backend.ErrNotAuthenticated
	}
	u := f.session.User
	return &u, nil
}

func (f *Fake) SelectPage(ctx context.Context, table string, q backend.PageQuery) (backend.Page, error) {
	f.mu.Lock()
	hook := f.beforeSelect
	f.mu.Unlock()
	if hook != nil {
		hook(q)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpSelectPage); err != nil {
		return backend.Page{}, err
	}
	if table != record.Table {
		return backend.Page{}, backend.UnknownTable(table)
	}

	var visible []record.Student
	for _, r := range f.rows {
		if f.session != nil && r.UserID == f.session.User.ID {
			visible = append(visible, r)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if q.Descending {
			return visible[i].CreatedAt.After(visible[j].CreatedAt)
		}
		return visible[i].CreatedAt.Before(visible[j].CreatedAt)
	})

	page := backend.Page{Total: len(visible), Rows: []record.Student{}}
	if q.Offset < len(visible) {
		end := q.Offset + q.Limit
		if end > len(visible) {
			end = len(visible)
		}
		page.Rows = append(page.Rows, visible[q.Offset:end]...)
	}
	return page, nil
}

func (f *Fake) duplicateLocked(exclude uuid.UUID, email, matricula string) error {
	for id, r := range f.rows {
		if id == exclude {
			continue
		}
		if strings.EqualFold(r.Email, email) {
			return backend.DuplicateKey("students_email_key")
		}
		if r.Matricula == matricula {
			return backend.DuplicateKey("students_matricula_key")
		}
	}
	return nil
}

func (f *Fake) Insert(ctx context.Context, table string, row record.Student) (record.Student, error) {
	f.mu.Lock()
	if err := f.enter(OpInsert); err != nil {
		f.mu.Unlock()
		return record.Student{}, err
	}
	if table != record.Table {
		f.mu.Unlock()
		return record.Student{}, backend.UnknownTable(table)
	}
	if f.session == nil || row.UserID != f.session.User.ID {
		f.mu.Unlock()
		return record.Student{}, backend.PolicyViolation(table)
	}
	if err := f.duplicateLocked(uuid.Nil, row.Email, row.Matricula); err != nil {
		f.mu.Unlock()
		return record.Student{}, err
	}
	row.ID = uuid.New()
	row.CreatedAt = f.tick()
	f.rows[row.ID] = row
	f.mu.Unlock()

	f.notifyTable(backend.Change{Table: table, Type: backend.ChangeInsert, RecordID: row.ID})
	return row, nil
}

func (f *Fake) Update(ctx context.Context, table string, id uuid.UUID, patch record.Fields) (record.Student, error) {
	f.mu.Lock()
	if err := f.enter(OpUpdate); err != nil {
		f.mu.Unlock()
		return record.Student{}, err
	}
	if table != record.Table {
		f.mu.Unlock()
		return record.Student{}, backend.UnknownTable(table)
	}
	row, ok := f.rows[id]
	if !ok || f.session == nil || row.UserID != f.session.User.ID {
		f.mu.Unlock()
		return record.Student{}, backend.ErrNotFound
	}
	if err := f.duplicateLocked(id, patch.Email, patch.Matricula); err != nil {
		f.mu.Unlock()
		return record.Student{}, err
	}
	row.FullName, row.Email, row.Matricula = patch.FullName, patch.Email, patch.Matricula
	f.rows[id] = row
	f.mu.Unlock()

	f.notifyTable(backend.Change{Table: table, Type: backend.ChangeUpdate, RecordID: id})
	return row, nil
}

func (f *Fake) Delete(ctx context.Context, table string, id uuid.UUID) error {
	f.mu.Lock()
	if err := f.enter(OpDelete); err != nil {
		f.mu.Unlock()
		return err
	}
	if table != record.Table {
		f.mu.Unlock()
		return backend.UnknownTable(table)
	}
	row, ok := f.rows[id]
	if !ok || f.session == nil || row.UserID != f.session.User.ID {
		f.mu.Unlock()
		return backend.ErrNotFound
	}
	delete(f.rows, id)
	f.mu.Unlock()

	f.notifyTable(backend.Change{Table: table, Type: backend.ChangeDelete, RecordID: id})
	return nil
}

func (f *Fake) SubscribeToTableChanges(table string, fn func(backend.Change)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpSubscribe); err != nil {
		return nil, err
	}
	if table != record.Table {
		return nil, backend.UnknownTable(table)
	}
	f.nextSubID++
	id := f.nextSubID
	f.tableSubs[id] = tableSub{table: table, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.tableSubs, id)
		})
	}, nil
}
