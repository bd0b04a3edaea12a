// Package session binds a backend client to each HTTP request and keeps the
// browser's auth cookies in step with the client's session events.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"student-records/internal/backend"
	"student-records/internal/httputil"
	"student-records/internal/platform"
)

const (
	AccessCookie  = "token"
	RefreshCookie = "refresh_token"
)

type contextKey string

const (
	clientKey  contextKey = "backend_client"
	sessionKey contextKey = "session"
)

// Factory builds the client for the credentials a request presents.
type Factory func(t platform.Tokens) backend.Client

// Cookies configures the auth cookies.
type Cookies struct {
	Secure     bool
	SameSite   http.SameSite
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// CookiesFor returns cookie settings for env. Local environments relax
// SameSite so API tools can replay cookies.
func CookiesFor(env string, secure bool, accessTTL, refreshTTL time.Duration) Cookies {
	sameSite := http.SameSiteStrictMode
	if env == "development" || env == "local" {
		sameSite = http.SameSiteLaxMode
	}
	return Cookies{Secure: secure, SameSite: sameSite, AccessTTL: accessTTL, RefreshTTL: refreshTTL}
}

func (c Cookies) set(w http.ResponseWriter, s *backend.Session) {
	c.write(w, AccessCookie, s.AccessToken, int(c.AccessTTL.Seconds()))
	c.write(w, RefreshCookie, s.RefreshToken, int(c.RefreshTTL.Seconds()))
}

func (c Cookies) clear(w http.ResponseWriter) {
	c.write(w, AccessCookie, "", -1)
	c.write(w, RefreshCookie, "", -1)
}

func (c Cookies) write(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		Path:     "/",
		MaxAge:   maxAge,
	})
}

// Middleware attaches a client built from the request cookies. Session
// events raised while the handler runs rewrite the cookies; events after the
// response headers were sent have no effect on them.
func Middleware(factory Factory, cookies Cookies, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := factory(platform.Tokens{
				Access:  cookieValue(r, AccessCookie),
				Refresh: cookieValue(r, RefreshCookie),
			})

			unsubscribe := client.OnSessionChange(func(ev backend.SessionEvent) {
				switch ev.Kind {
				case backend.SignedIn, backend.TokenRefreshed:
					if ev.Session != nil {
						cookies.set(w, ev.Session)
					}
				case backend.SignedOut:
					cookies.clear(w)
				}
				logger.DebugContext(r.Context(), "session event", "kind", ev.Kind, "path", r.URL.Path)
			})
			defer unsubscribe()

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

// RequireSession rejects requests without a signed-in user.
func RequireSession(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := ClientFrom(r.Context())
			if !ok {
				httputil.RespondWithError(w, http.StatusInternalServerError, "session unavailable")
				return
			}

			s, err := client.GetSession(r.Context())
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to resolve session", "error", err)
				httputil.RespondWithError(w, http.StatusInternalServerError, "failed to resolve session")
				return
			}
			if s == nil {
				logger.WarnContext(r.Context(), "no session", "path", r.URL.Path)
				httputil.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, s)))
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func WithClient(ctx context.Context, c backend.Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// ClientFrom extracts the request's backend client from context
func ClientFrom(ctx context.Context) (backend.Client, bool) {
	c, ok := ctx.Value(clientKey).(backend.Client)
	return c, ok
}

// From extracts the session resolved by RequireSession
func From(ctx context.Context) (*backend.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*backend.Session)
	return s, ok
}
