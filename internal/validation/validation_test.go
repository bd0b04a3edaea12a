package validation_test

import (
	"errors"
	"strings"
	"testing"

	"student-records/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldErr(t *testing.T, err error) *validation.Error {
	t.Helper()
	var verr *validation.Error
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	return verr
}

func TestPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantMsg  string
	}{
		{"too short", "a1!b", validation.MsgPasswordTooShort},
		{"seven chars", "abc12!x", validation.MsgPasswordTooShort},
		{"no digit", "abcdefg!", validation.MsgPasswordNoDigit},
		{"no special", "abcdefg1", validation.MsgPasswordNoSpecial},
		{"empty", "", validation.MsgPasswordTooShort},
		{"valid", "abcdef1!", ""},
		{"valid with quote", `pass"word9`, ""},
		{"valid long", "correct horse battery staple 42 {}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.Password(tt.password)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantMsg, fieldErr(t, err).First().Message)
		})
	}

	t.Run("every special character counts", func(t *testing.T) {
		for _, r := range validation.SpecialCharacters {
			assert.NoError(t, validation.Password("abcdefg1"+string(r)), "special %q", r)
		}
	})
}

func TestStudent(t *testing.T) {
	valid := validation.Form{
		validation.FieldFullName:  "  João da Silva ",
		validation.FieldEmail:     " joao@inst.edu ",
		validation.FieldMatricula: " 2024001 ",
	}

	t.Run("trims and accepts", func(t *testing.T) {
		f, err := validation.Student(valid)
		require.NoError(t, err)
		assert.Equal(t, "João da Silva", f.FullName)
		assert.Equal(t, "joao@inst.edu", f.Email)
		assert.Equal(t, "2024001", f.Matricula)
	})

	t.Run("lowercases email", func(t *testing.T) {
		form := validation.Form{
			validation.FieldFullName:  "João da Silva",
			validation.FieldEmail:     "Joao@Inst.EDU",
			validation.FieldMatricula: "2024001",
		}
		f, err := validation.Student(form)
		require.NoError(t, err)
		assert.Equal(t, "joao@inst.edu", f.Email)
	})

	tests := []struct {
		name    string
		field   string
		value   string
		wantMsg string
	}{
		{"name too short", validation.FieldFullName, "Jo", validation.MsgNameTooShort},
		{"name only spaces", validation.FieldFullName, "     ", validation.MsgNameTooShort},
		{"name too long", validation.FieldFullName, strings.Repeat("a", 101), validation.MsgNameTooLong},
		{"email syntax", validation.FieldEmail, "not-an-email", validation.MsgInvalidEmail},
		{"email too long", validation.FieldEmail, strings.Repeat("a", 250) + "@x.com", validation.MsgEmailTooLong},
		{"matricula too short", validation.FieldMatricula, "1234", validation.MsgMatriculaTooShort},
		{"matricula too long", validation.FieldMatricula, strings.Repeat("9", 21), validation.MsgMatriculaTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validation.Form{}
			for k, v := range valid {
				form[k] = v
			}
			form[tt.field] = tt.value

			_, err := validation.Student(form)
			verr := fieldErr(t, err)
			assert.Equal(t, tt.field, verr.First().Field)
			assert.Contains(t, verr.For(tt.field), tt.wantMsg)
		})
	}

	t.Run("multi-byte names count characters", func(t *testing.T) {
		form := validation.Form{
			validation.FieldFullName:  "Zoë",
			validation.FieldEmail:     "zoe@inst.edu",
			validation.FieldMatricula: "20240",
		}
		_, err := validation.Student(form)
		assert.NoError(t, err)
	})

	t.Run("errors keep field order", func(t *testing.T) {
		_, err := validation.Student(validation.Form{})
		verr := fieldErr(t, err)
		require.GreaterOrEqual(t, len(verr.Fields), 3)
		assert.Equal(t, validation.FieldFullName, verr.Fields[0].Field)
		assert.Equal(t, validation.MsgNameTooShort, err.Error())
	})
}

func TestSignup(t *testing.T) {
	form := validation.Form{
		validation.FieldFullName:        "Maria Souza",
		validation.FieldEmail:           "maria@inst.edu",
		validation.FieldMatricula:       "2024002",
		validation.FieldPassword:        "s3cret!pw",
		validation.FieldConfirmPassword: "s3cret!pw",
	}

	t.Run("valid", func(t *testing.T) {
		in, err := validation.Signup(form)
		require.NoError(t, err)
		assert.Equal(t, "maria@inst.edu", in.Email)
		assert.Equal(t, "s3cret!pw", in.Password)
	})

	t.Run("confirmation mismatch attaches to confirmation field", func(t *testing.T) {
		bad := validation.Form{}
		for k, v := range form {
			bad[k] = v
		}
		bad[validation.FieldConfirmPassword] = "s3cret!pX"

		_, err := validation.Signup(bad)
		verr := fieldErr(t, err)
		assert.Equal(t, validation.FieldConfirmPassword, verr.First().Field)
		assert.Equal(t, validation.MsgPasswordMismatch, verr.First().Message)
	})

	t.Run("weak password", func(t *testing.T) {
		bad := validation.Form{}
		for k, v := range form {
			bad[k] = v
		}
		bad[validation.FieldPassword] = "weak"
		bad[validation.FieldConfirmPassword] = "weak"

		_, err := validation.Signup(bad)
		verr := fieldErr(t, err)
		assert.Equal(t, validation.FieldPassword, verr.First().Field)
		assert.Equal(t, validation.MsgPasswordTooShort, verr.First().Message)
	})
}

func TestLogin(t *testing.T) {
	t.Run("no strength check", func(t *testing.T) {
		c, err := validation.Login(validation.Form{
			validation.FieldEmail:    " a@b.com ",
			validation.FieldPassword: "x",
		})
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", c.Email)
		assert.Equal(t, "x", c.Password)
	})

	t.Run("empty password", func(t *testing.T) {
		_, err := validation.Login(validation.Form{validation.FieldEmail: "a@b.com"})
		verr := fieldErr(t, err)
		assert.Equal(t, validation.FieldPassword, verr.First().Field)
		assert.Equal(t, validation.MsgPasswordRequired, verr.First().Message)
	})
}

func TestChangePassword(t *testing.T) {
	tests := []struct {
		name      string
		form      validation.Form
		wantField string
		wantMsg   string
	}{
		{
			name: "valid",
			form: validation.Form{
				validation.FieldCurrentPassword: "old",
				validation.FieldNewPassword:     "n3wpass!!",
				validation.FieldConfirmPassword: "n3wpass!!",
			},
		},
		{
			name: "current missing",
			form: validation.Form{
				validation.FieldNewPassword:     "n3wpass!!",
				validation.FieldConfirmPassword: "n3wpass!!",
			},
			wantField: validation.FieldCurrentPassword,
			wantMsg:   validation.MsgCurrentRequired,
		},
		{
			name: "weak new password",
			form: validation.Form{
				validation.FieldCurrentPassword: "old",
				validation.FieldNewPassword:     "newpassword",
				validation.FieldConfirmPassword: "newpassword",
			},
			wantField: validation.FieldNewPassword,
			wantMsg:   validation.MsgPasswordNoDigit,
		},
		{
			name: "confirmation missing",
			form: validation.Form{
				validation.FieldCurrentPassword: "old",
				validation.FieldNewPassword:     "n3wpass!!",
			},
			wantField: validation.FieldConfirmPassword,
			wantMsg:   validation.MsgConfirmRequired,
		},
		{
			name: "confirmation mismatch",
			form: validation.Form{
				validation.FieldCurrentPassword: "old",
				validation.FieldNewPassword:     "n3wpass!!",
				validation.FieldConfirmPassword: "n3wpass!?",
			},
			wantField: validation.FieldConfirmPassword,
			wantMsg:   validation.MsgPasswordMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := validation.ChangePassword(tt.form)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, "n3wpass!!", in.New)
				return
			}
			verr := fieldErr(t, err)
			assert.Equal(t, tt.wantField, verr.First().Field)
			assert.Equal(t, tt.wantMsg, verr.First().Message)
		})
	}
}
