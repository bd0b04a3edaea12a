package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RecordMetrics counts user-facing operations of the student records app.
type RecordMetrics struct {
	studentsCreated  metric.Int64Counter
	studentsUpdated  metric.Int64Counter
	studentsDeleted  metric.Int64Counter
	listViewed       metric.Int64Counter
	signIns          metric.Int64Counter
	signUps          metric.Int64Counter
	passwordsChanged metric.Int64Counter
}

func NewRecordMetrics(meter metric.Meter) (*RecordMetrics, error) {
	m := &RecordMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.studentsCreated, "student_records.students.created", "Total number of students created", "{student}"},
		{&m.studentsUpdated, "student_records.students.updated", "Total number of students updated", "{student}"},
		{&m.studentsDeleted, "student_records.students.deleted", "Total number of students deleted", "{student}"},
		{&m.listViewed, "student_records.students.list_viewed", "Total number of student list fetches", "{view}"},
		{&m.signIns, "student_records.auth.sign_ins", "Sign-in attempts by outcome", "{attempt}"},
		{&m.signUps, "student_records.auth.sign_ups", "Sign-up attempts by outcome", "{attempt}"},
		{&m.passwordsChanged, "student_records.auth.password_changes", "Password changes by outcome", "{attempt}"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	return m, nil
}

func (m *RecordMetrics) RecordStudentCreated(ctx context.Context) {
	if m != nil && m.studentsCreated != nil {
		m.studentsCreated.Add(ctx, 1)
	}
}

func (m *RecordMetrics) RecordStudentUpdated(ctx context.Context) {
	if m != nil && m.studentsUpdated != nil {
		m.studentsUpdated.Add(ctx, 1)
	}
}

func (m *RecordMetrics) RecordStudentDeleted(ctx context.Context) {
	if m != nil && m.studentsDeleted != nil {
		m.studentsDeleted.Add(ctx, 1)
	}
}

func (m *RecordMetrics) RecordListViewed(ctx context.Context) {
	if m != nil && m.listViewed != nil {
		m.listViewed.Add(ctx, 1)
	}
}

func (m *RecordMetrics) RecordSignIn(ctx context.Context, ok bool) {
	if m != nil && m.signIns != nil {
		m.signIns.Add(ctx, 1, outcome(ok))
	}
}

func (m *RecordMetrics) RecordSignUp(ctx context.Context, ok bool) {
	if m != nil && m.signUps != nil {
		m.signUps.Add(ctx, 1, outcome(ok))
	}
}

func (m *RecordMetrics) RecordPasswordChange(ctx context.Context, ok bool) {
	if m != nil && m.passwordsChanged != nil {
		m.passwordsChanged.Add(ctx, 1, outcome(ok))
	}
}

func outcome(ok bool) metric.AddOption {
	if ok {
		return metric.WithAttributes(attribute.String("outcome", "success"))
	}
	return metric.WithAttributes(attribute.String("outcome", "failure"))
}
