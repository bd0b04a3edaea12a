// Package backend defines the operations every component performs against the
// managed backend: auth, paged selects, row mutations and change feeds.
package backend

import (
	"context"
	"time"

	"student-records/internal/record"

	"github.com/google/uuid"
)

// Client is a handle to the managed backend bound to one browser session.
type Client interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers fn for sign-in, sign-out, token refresh and
	// user updates. The returned func unregisters it.
	OnSessionChange(fn func(SessionEvent)) (unsubscribe func())
	SignUp(ctx context.Context, email, password string, opts SignUpOptions) (*User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	UpdatePassword(ctx context.Context, newPassword string) error
	GetUser(ctx context.Context) (*User, error)

	SelectPage(ctx context.Context, table string, q PageQuery) (Page, error)
	Insert(ctx context.Context, table string, row record.Student) (record.Student, error)
	Update(ctx context.Context, table string, id uuid.UUID, patch record.Fields) (record.Student, error)
	Delete(ctx context.Context, table string, id uuid.UUID) error
	// SubscribeToTableChanges delivers every insert, update and delete on table
	// visible to the session user until unsubscribe is called.
	SubscribeToTableChanges(table string, fn func(Change)) (unsubscribe func(), err error)
}

// Profile is the free-form payload attached to a user at signup.
type Profile struct {
	FullName  string `json:"full_name,omitempty"`
	Matricula string `json:"matricula,omitempty"`
}

type User struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Profile     Profile    `json:"user_metadata"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

type SignUpOptions struct {
	// RedirectTo is where the confirmation link lands after confirming.
	RedirectTo string
	Profile    Profile
}

type EventKind string

const (
	SignedIn       EventKind = "SIGNED_IN"
	SignedOut      EventKind = "SIGNED_OUT"
	TokenRefreshed EventKind = "TOKEN_REFRESHED"
	UserUpdated    EventKind = "USER_UPDATED"
)

// SessionEvent reports a session transition. Session is nil for SignedOut.
type SessionEvent struct {
	Kind    EventKind
	Session *Session
}

// PageQuery selects rows [Offset, Offset+Limit-1] in OrderColumn order.
type PageQuery struct {
	OrderColumn string
	Descending  bool
	Offset      int
	Limit       int
}

// Page carries the requested rows and the total row count in one response.
type Page struct {
	Rows  []record.Student `json:"rows"`
	Total int              `json:"total"`
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

type Change struct {
	Table    string     `json:"table"`
	Type     ChangeType `json:"type"`
	RecordID uuid.UUID  `json:"record_id"`
}
