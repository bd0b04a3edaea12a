package httputil

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"student-records/internal/backend"
	"student-records/internal/busy"
	"student-records/internal/validation"
)

// RespondWithError writes an error response in JSON format
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithJSON writes a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// StatusFor maps a component error to an HTTP status.
func StatusFor(err error) int {
	var verr *validation.Error
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, busy.ErrBusy):
		return http.StatusConflict
	}

	switch backend.CodeOf(err) {
	case backend.CodeInvalidCredentials, backend.CodeNotAuthenticated, backend.CodeEmailNotConfirmed:
		return http.StatusUnauthorized
	case backend.CodeUserAlreadyExists, backend.CodeDuplicateKey, backend.CodeSamePassword:
		return http.StatusConflict
	case backend.CodeWeakPassword:
		return http.StatusBadRequest
	case backend.CodePolicyViolation:
		return http.StatusForbidden
	case backend.CodeNotFound, backend.CodeUnknownTable:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// FieldErrors returns the field errors of a validation failure.
func FieldErrors(err error) []validation.FieldError {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

// DecodeForm reads a form submission sent as JSON or urlencoded fields.
func DecodeForm(r *http.Request) (validation.Form, error) {
	form := validation.Form{}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		return form, nil
	}

	if r.Body == nil || r.ContentLength == 0 {
		return form, nil
	}
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(&form); err != nil {
		return nil, err
	}
	return form, nil
}
