// Package view holds the outputs components produce besides their state:
// transient notices and navigation requests.
package view

import "sync"

type Level string

const (
	Success Level = "success"
	Error   Level = "error"
	Info    Level = "info"
)

// Notice is a dismissible, transient message.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Sink receives component outputs.
type Sink interface {
	Notify(n Notice)
	Navigate(path string)
}

// Recorder is a Sink keeping everything it receives. HTTP handlers render
// the latest notice and redirect of a recorder into the response.
type Recorder struct {
	mu        sync.Mutex
	notices   []Notice
	redirects []string
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects = append(r.redirects, path)
}

// Notice returns the latest notice, or nil.
func (r *Recorder) Notice() *Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return nil
	}
	n := r.notices[len(r.notices)-1]
	return &n
}

// Redirect returns the latest navigation target, or "".
func (r *Recorder) Redirect() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.redirects) == 0 {
		return ""
	}
	return r.redirects[len(r.redirects)-1]
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func (r *Recorder) Redirects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.redirects...)
}

// Discard drops all outputs.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(Notice)   {}
func (discard) Navigate(string) {}

func Succeeded(msg string) Notice { return Notice{Level: Success, Message: msg} }
func Failed(msg string) Notice    { return Notice{Level: Error, Message: msg} }

// Routes shared by components.
const (
	PathHome      = "/"
	PathAuth      = "/auth"
	PathDashboard = "/dashboard"
)
