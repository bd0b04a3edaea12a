package httputil

import (
	"net/http"

	"student-records/internal/validation"
	"student-records/internal/view"
)

// Result is the part of every component response describing what the
// component asked the browser to show or do.
type Result struct {
	Notice   *view.Notice            `json:"notice,omitempty"`
	Redirect string                  `json:"redirect,omitempty"`
	Errors   []validation.FieldError `json:"errors,omitempty"`
}

// ResultFrom collects the latest notice and redirect of rec plus the field
// errors carried by err.
func ResultFrom(rec *view.Recorder, err error) Result {
	return Result{
		Notice:   rec.Notice(),
		Redirect: rec.Redirect(),
		Errors:   FieldErrors(err),
	}
}

// RespondWithResult writes a failed component operation. The status follows
// err; the body carries the component's notice.
func RespondWithResult(w http.ResponseWriter, rec *view.Recorder, err error) {
	RespondWithJSON(w, StatusFor(err), ResultFrom(rec, err))
}
