// Package landing serves the splash page and the dashboard summary.
package landing

import (
	"context"
	"log/slog"

	"student-records/internal/backend"
	"student-records/internal/view"
)

type Feature struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Splash is what an anonymous visitor sees.
type Splash struct {
	Title        string    `json:"title"`
	Tagline      string    `json:"tagline"`
	CallToAction string    `json:"call_to_action"`
	Features     []Feature `json:"features"`
}

var splash = Splash{
	Title:        "Student Records",
	Tagline:      "keep your students' academic data organized and always up to date",
	CallToAction: view.PathAuth,
	Features: []Feature{
		{Title: "Academic records", Description: "register students with name, email and enrollment number"},
		{Title: "Student management", Description: "edit and remove records, with changes shown live"},
		{Title: "Security", Description: "every account only sees the records it created"},
	},
}

// Dashboard summarizes the signed-in account.
type Dashboard struct {
	Email     string            `json:"email"`
	FullName  string            `json:"full_name,omitempty"`
	Matricula string            `json:"matricula,omitempty"`
	Confirmed bool              `json:"confirmed"`
	Links     map[string]string `json:"links"`
}

type Page struct {
	client backend.Client
	sink   view.Sink
	logger *slog.Logger
}

func NewPage(client backend.Client, sink view.Sink, logger *slog.Logger) *Page {
	return &Page{client: client, sink: sink, logger: logger}
}

// Mount sends a signed-in user to the dashboard and otherwise returns the
// splash content.
func (p *Page) Mount(ctx context.Context) (*Splash, error) {
	sess, err := p.client.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		p.sink.Navigate(view.PathDashboard)
		return nil, nil
	}
	s := splash
	return &s, nil
}

// Dashboard returns the summary, or sends an anonymous visitor to sign in.
func (p *Page) Dashboard(ctx context.Context) (*Dashboard, error) {
	sess, err := p.client.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		p.sink.Navigate(view.PathAuth)
		return nil, nil
	}

	u := sess.User
	return &Dashboard{
		Email:     u.Email,
		FullName:  u.Profile.FullName,
		Matricula: u.Profile.Matricula,
		Confirmed: u.ConfirmedAt != nil,
		Links: map[string]string{
			"students":        "/api/students",
			"students_stream": "/api/students/stream",
			"change_password": "/api/account/password",
			"logout":          "/auth/logout",
		},
	}, nil
}
