package platform

import (
	"time"

	"student-records/internal/backend"
	"student-records/internal/db"
	"student-records/internal/record"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           uuid.UUID       `bun:"id,pk,type:uuid"`
	Email        string          `bun:"email,notnull,unique"`
	PasswordHash string          `bun:"password_hash,notnull"`
	Profile      backend.Profile `bun:"user_metadata,type:jsonb,notnull"`
	ConfirmedAt  time.Time       `bun:"confirmed_at,nullzero"`
	CreatedAt    time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (u *userRow) toUser() backend.User {
	out := backend.User{
		ID:        u.ID,
		Email:     u.Email,
		Profile:   u.Profile,
		CreatedAt: u.CreatedAt,
	}
	if !u.ConfirmedAt.IsZero() {
		t := u.ConfirmedAt
		out.ConfirmedAt = &t
	}
	return out
}

type refreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    uuid.UUID `bun:"user_id,type:uuid,notnull"`
	Token     string    `bun:"token,notnull,unique"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Models lists the tables owned by the platform.
func Models() []any {
	return []any{
		(*userRow)(nil),
		(*refreshToken)(nil),
		(*record.Student)(nil),
	}
}

// Migrations lists indexes and constraints applied after table creation.
func Migrations() []db.Migration {
	return []db.Migration{
		{
			Name:  "students_user_created_idx",
			Query: `CREATE INDEX IF NOT EXISTS students_user_created_idx ON students (user_id, created_at DESC)`,
		},
		{
			Name:  "students_email_lower_key",
			Query: `CREATE UNIQUE INDEX IF NOT EXISTS students_email_lower_key ON students (lower(email))`,
		},
		{
			Name:  "refresh_tokens_user_idx",
			Query: `CREATE INDEX IF NOT EXISTS refresh_tokens_user_idx ON refresh_tokens (user_id)`,
		},
		{
			Name: "refresh_tokens_user_fk",
			Query: `DO $$ BEGIN
	ALTER TABLE refresh_tokens ADD CONSTRAINT refresh_tokens_user_fk
		FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE;
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`,
		},
	}
}
