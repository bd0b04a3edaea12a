package backend_test

import (
	"errors"
	"fmt"
	"testing"

	"student-records/internal/backend"

	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("code survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("insert: %w", backend.DuplicateKey("students_email_key"))
		assert.True(t, backend.IsCode(err, backend.CodeDuplicateKey))
		assert.Equal(t, `insert: duplicate key value violates unique constraint "students_email_key"`, err.Error())
	})

	t.Run("plain errors become transport errors", func(t *testing.T) {
		cause := errors.New("connection refused")
		be := backend.Wrap(cause)
		assert.Equal(t, backend.CodeTransport, be.Code)
		assert.Equal(t, "connection refused", be.Message)
		assert.ErrorIs(t, be, cause)
	})

	t.Run("wrap keeps backend errors", func(t *testing.T) {
		assert.Same(t, backend.ErrInvalidCredentials, backend.Wrap(fmt.Errorf("x: %w", backend.ErrInvalidCredentials)))
		assert.Nil(t, backend.Wrap(nil))
	})

	t.Run("code of foreign error is empty", func(t *testing.T) {
		assert.Equal(t, backend.Code(""), backend.CodeOf(errors.New("x")))
		assert.False(t, backend.IsCode(nil, backend.CodeNotFound))
	})
}
