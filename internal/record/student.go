package record

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Table is the name of the student records table.
const Table = "students"

// PageSize is the number of rows shown per list page.
const PageSize = 10

// Student is one enrolled person's identifying data. ID, UserID and CreatedAt
// are assigned on insert and never change afterwards.
type Student struct {
	bun.BaseModel `bun:"table:students,alias:s"`

	ID        uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	FullName  string    `bun:"full_name,notnull" json:"full_name"`
	Email     string    `bun:"email,notnull,unique" json:"email"`
	Matricula string    `bun:"matricula,notnull,unique" json:"matricula"`
	UserID    uuid.UUID `bun:"user_id,type:uuid,notnull" json:"user_id"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Fields holds the user-editable columns of a Student.
type Fields struct {
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Matricula string `json:"matricula"`
}

// Fields returns the editable columns of s.
func (s Student) Fields() Fields {
	return Fields{FullName: s.FullName, Email: s.Email, Matricula: s.Matricula}
}

// NewStudent builds an unsaved row owned by owner.
func NewStudent(f Fields, owner uuid.UUID) Student {
	return Student{
		FullName:  f.FullName,
		Email:     f.Email,
		Matricula: f.Matricula,
		UserID:    owner,
	}
}
