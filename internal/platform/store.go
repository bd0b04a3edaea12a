package platform

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"student-records/internal/backend"
	"student-records/internal/metrics"
	"student-records/internal/record"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const uniqueViolation = "23505"

// orderColumns are the columns a page may be sorted by.
var orderColumns = map[string]bool{
	"created_at": true,
	"full_name":  true,
	"email":      true,
	"matricula":  true,
}

type store struct {
	db      *bun.DB
	metrics *metrics.Metrics
}

// constraintOf returns the violated unique constraint of err, if any.
func constraintOf(err error) (string, bool) {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation {
		return pgErr.Field('n'), true
	}
	return "", false
}

func (s *store) createUser(ctx context.Context, u *userRow) error {
	start := time.Now()
	_, err := s.db.NewInsert().Model(u).Returning("*").Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "insert", "users", time.Since(start), err)
	return err
}

func (s *store) userByEmail(ctx context.Context, email string) (*userRow, error) {
	start := time.Now()
	u := new(userRow)
	err := s.db.NewSelect().Model(u).Where("email = ?", strings.ToLower(email)).Scan(ctx)
	s.metrics.Database.RecordQuery(ctx, "select", "users", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *store) userByID(ctx context.Context, id uuid.UUID) (*userRow, error) {
	start := time.Now()
	u := new(userRow)
	err := s.db.NewSelect().Model(u).Where("id = ?", id).Scan(ctx)
	s.metrics.Database.RecordQuery(ctx, "select", "users", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *store) setPassword(ctx context.Context, id uuid.UUID, hash string) error {
	start := time.Now()
	_, err := s.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("password_hash = ?", hash).
		Where("id = ?", id).
		Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "update", "users", time.Since(start), err)
	return err
}

// confirmUser marks the user confirmed; confirming twice keeps the first time.
func (s *store) confirmUser(ctx context.Context, id uuid.UUID, at time.Time) error {
	start := time.Now()
	res, err := s.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("confirmed_at = COALESCE(confirmed_at, ?)", at).
		Where("id = ?", id).
		Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "update", "users", time.Since(start), err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *store) createRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	start := time.Now()
	_, err := s.db.NewInsert().Model(&refreshToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	}).Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "insert", "refresh_tokens", time.Since(start), err)
	return err
}

// takeRefreshToken deletes a live token and returns its owner. Each token is
// usable once.
func (s *store) takeRefreshToken(ctx context.Context, token string, now time.Time) (uuid.UUID, error) {
	start := time.Now()
	var rt refreshToken
	_, err := s.db.NewDelete().
		Model(&rt).
		Where("token = ?", token).
		Where("expires_at > ?", now).
		Returning("*").
		Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "delete", "refresh_tokens", time.Since(start), err)
	if err != nil {
		return uuid.Nil, err
	}
	if rt.UserID == uuid.Nil {
		return uuid.Nil, sql.ErrNoRows
	}
	return rt.UserID, nil
}

func (s *store) deleteRefreshToken(ctx context.Context, token string) error {
	start := time.Now()
	_, err := s.db.NewDelete().
		Model((*refreshToken)(nil)).
		Where("token = ?", token).
		Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "delete", "refresh_tokens", time.Since(start), err)
	return err
}

func (s *store) selectStudents(ctx context.Context, owner uuid.UUID, q backend.PageQuery) (backend.Page, error) {
	start := time.Now()
	rows := make([]record.Student, 0, q.Limit)

	query := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", owner).
		Offset(q.Offset).
		Limit(q.Limit)
	if q.Descending {
		query = query.OrderExpr("? DESC, id DESC", bun.Ident(q.OrderColumn))
	} else {
		query = query.OrderExpr("? ASC, id ASC", bun.Ident(q.OrderColumn))
	}

	total, err := query.ScanAndCount(ctx)
	s.metrics.Database.RecordQuery(ctx, "select", record.Table, time.Since(start), err)
	if err != nil {
		return backend.Page{}, err
	}
	return backend.Page{Rows: rows, Total: total}, nil
}

func (s *store) insertStudent(ctx context.Context, row *record.Student) error {
	start := time.Now()
	_, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "insert", record.Table, time.Since(start), err)
	return err
}

func (s *store) updateStudent(ctx context.Context, owner, id uuid.UUID, patch record.Fields) (record.Student, error) {
	start := time.Now()
	row := record.Student{
		ID:        id,
		FullName:  patch.FullName,
		Email:     patch.Email,
		Matricula: patch.Matricula,
	}
	res, err := s.db.NewUpdate().
		Model(&row).
		Column("full_name", "email", "matricula").
		WherePK().
		Where("user_id = ?", owner).
		Returning("*").
		Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "update", record.Table, time.Since(start), err)
	if err != nil {
		return record.Student{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return record.Student{}, sql.ErrNoRows
	}
	return row, nil
}

func (s *store) deleteStudent(ctx context.Context, owner, id uuid.UUID) error {
	start := time.Now()
	res, err := s.db.NewDelete().
		Model((*record.Student)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", owner).
		Exec(ctx)
	s.metrics.Database.RecordQuery(ctx, "delete", record.Table, time.Since(start), err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
