// Package validation maps raw form input to normalized values or an ordered
// list of field errors. All functions are pure.
package validation

import (
	"strings"
	"unicode/utf8"

	"student-records/internal/record"

	"github.com/go-playground/validator/v10"
)

// Form is the raw field-name-to-string mapping submitted by a form.
type Form map[string]string

// Field names shared by forms and error reports.
const (
	FieldFullName        = "full_name"
	FieldEmail           = "email"
	FieldMatricula       = "matricula"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirm_password"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
)

// SpecialCharacters is the set a strong password must draw at least one character from.
const SpecialCharacters = `!@#$%^&*(),.?":{}|<>`

const (
	MsgNameTooShort      = "name must be at least 3 characters"
	MsgNameTooLong       = "name must be at most 100 characters"
	MsgInvalidEmail      = "invalid email"
	MsgEmailTooLong      = "email must be at most 255 characters"
	MsgMatriculaTooShort = "enrollment number must be at least 5 characters"
	MsgMatriculaTooLong  = "enrollment number must be at most 20 characters"
	MsgPasswordTooShort  = "password must be at least 8 characters"
	MsgPasswordNoDigit   = "password must contain at least 1 number"
	MsgPasswordNoSpecial = "password must contain at least 1 special character"
	MsgPasswordRequired  = "password is required"
	MsgCurrentRequired   = "current password is required"
	MsgConfirmRequired   = "confirmation is required"
	MsgPasswordMismatch  = "passwords do not match"
)

var validate = validator.New()

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries every failed rule in field order. Callers display First.
type Error struct {
	Fields []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	return e.First().Message
}

// First returns the error to display.
func (e *Error) First() FieldError {
	if e == nil || len(e.Fields) == 0 {
		return FieldError{}
	}
	return e.Fields[0]
}

// For returns the messages attached to field.
func (e *Error) For(field string) []string {
	var out []string
	for _, fe := range e.Fields {
		if fe.Field == field {
			out = append(out, fe.Message)
		}
	}
	return out
}

type collector struct {
	errs []FieldError
}

func (c *collector) add(field, msg string) {
	c.errs = append(c.errs, FieldError{Field: field, Message: msg})
}

func (c *collector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &Error{Fields: c.errs}
}

func (c *collector) length(field, value string, min, max int, tooShort, tooLong string) {
	n := utf8.RuneCountInString(value)
	if n < min {
		c.add(field, tooShort)
	}
	if n > max {
		c.add(field, tooLong)
	}
}

func (c *collector) email(value string) {
	if validate.Var(value, "required,email") != nil {
		c.add(FieldEmail, MsgInvalidEmail)
	}
	if utf8.RuneCountInString(value) > 255 {
		c.add(FieldEmail, MsgEmailTooLong)
	}
}

func (c *collector) strongPassword(field, value string) {
	if utf8.RuneCountInString(value) < 8 {
		c.add(field, MsgPasswordTooShort)
	}
	if !strings.ContainsAny(value, "0123456789") {
		c.add(field, MsgPasswordNoDigit)
	}
	if !strings.ContainsAny(value, SpecialCharacters) {
		c.add(field, MsgPasswordNoSpecial)
	}
}

func (c *collector) confirmation(password, confirm string) {
	if confirm == "" {
		c.add(FieldConfirmPassword, MsgConfirmRequired)
		return
	}
	if confirm != password {
		c.add(FieldConfirmPassword, MsgPasswordMismatch)
	}
}

// Credentials are validated login inputs.
type Credentials struct {
	Email    string
	Password string
}

// SignupInput is a validated signup form.
type SignupInput struct {
	FullName  string
	Email     string
	Matricula string
	Password  string
}

// PasswordChange is a validated password change form.
type PasswordChange struct {
	Current string
	New     string
}

// Login checks an existing credential: email syntax and a non-empty password.
func Login(form Form) (Credentials, error) {
	var c collector
	email := strings.TrimSpace(form[FieldEmail])
	c.email(email)
	if form[FieldPassword] == "" {
		c.add(FieldPassword, MsgPasswordRequired)
	}
	if err := c.err(); err != nil {
		return Credentials{}, err
	}
	return Credentials{Email: email, Password: form[FieldPassword]}, nil
}

// Signup checks a new account including password strength and confirmation.
func Signup(form Form) (SignupInput, error) {
	var c collector
	in := SignupInput{
		FullName:  strings.TrimSpace(form[FieldFullName]),
		Email:     strings.TrimSpace(form[FieldEmail]),
		Matricula: strings.TrimSpace(form[FieldMatricula]),
		Password:  form[FieldPassword],
	}
	c.length(FieldFullName, in.FullName, 3, 100, MsgNameTooShort, MsgNameTooLong)
	c.email(in.Email)
	c.length(FieldMatricula, in.Matricula, 5, 20, MsgMatriculaTooShort, MsgMatriculaTooLong)
	c.strongPassword(FieldPassword, in.Password)
	c.confirmation(in.Password, form[FieldConfirmPassword])
	if err := c.err(); err != nil {
		return SignupInput{}, err
	}
	return in, nil
}

// Student checks the create/update form of a student record.
func Student(form Form) (record.Fields, error) {
	var c collector
	f := record.Fields{
		FullName:  strings.TrimSpace(form[FieldFullName]),
		Email:     strings.ToLower(strings.TrimSpace(form[FieldEmail])),
		Matricula: strings.TrimSpace(form[FieldMatricula]),
	}
	c.length(FieldFullName, f.FullName, 3, 100, MsgNameTooShort, MsgNameTooLong)
	c.email(f.Email)
	c.length(FieldMatricula, f.Matricula, 5, 20, MsgMatriculaTooShort, MsgMatriculaTooLong)
	if err := c.err(); err != nil {
		return record.Fields{}, err
	}
	return f, nil
}

// Password checks a new password is strong enough.
func Password(password string) error {
	var c collector
	c.strongPassword(FieldPassword, password)
	return c.err()
}

// ChangePassword checks the password change form.
func ChangePassword(form Form) (PasswordChange, error) {
	var c collector
	in := PasswordChange{Current: form[FieldCurrentPassword], New: form[FieldNewPassword]}
	if in.Current == "" {
		c.add(FieldCurrentPassword, MsgCurrentRequired)
	}
	c.strongPassword(FieldNewPassword, in.New)
	c.confirmation(in.New, form[FieldConfirmPassword])
	if err := c.err(); err != nil {
		return PasswordChange{}, err
	}
	return in, nil
}
