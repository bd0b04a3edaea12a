package student_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"student-records/internal/backend"
	"student-records/internal/backend/backendtest"
	"student-records/internal/busy"
	"student-records/internal/logger"
	"student-records/internal/metrics"
	"student-records/internal/platform"
	"student-records/internal/record"
	"student-records/internal/session"
	"student-records/internal/student"
	"student-records/internal/validation"
	"student-records/internal/view"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type responseBody struct {
	Notice  *view.Notice            `json:"notice"`
	Errors  []validation.FieldError `json:"errors"`
	Student *record.Student         `json:"student"`
	Confirm string                  `json:"confirm"`
	List    *student.State          `json:"list"`
	Error   string                  `json:"error"`
}

func newRouter(fake *backendtest.Fake) http.Handler {
	r := chi.NewRouter()
	r.Use(session.Middleware(func(platform.Tokens) backend.Client { return fake },
		session.CookiesFor("local", false, time.Minute, time.Hour), logger.Discard()))
	r.Route("/api", func(r chi.Router) {
		r.Use(session.RequireSession(logger.Discard()))
		student.NewHandler(busy.NewMemory(), logger.Discard(), metrics.NewMock()).RegisterRoutes(r)
	})
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, responseBody) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out responseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestHandler_List(t *testing.T) {
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	seedStudents(fake, user.ID, 12)
	router := newRouter(fake)

	rec, body := doRequest(t, router, http.MethodGet, "/api/students?page=2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, body.List)
	assert.Equal(t, 2, body.List.Page)
	assert.Len(t, body.List.Rows, 2)
	assert.Equal(t, "showing 11 to 12 of 12 students", body.List.RangeLabel)

	rec, body = doRequest(t, router, http.MethodGet, "/api/students?page=abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, body.List.Page)
}

func TestHandler_RequiresSession(t *testing.T) {
	router := newRouter(backendtest.New())

	rec, body := doRequest(t, router, http.MethodGet, "/api/students", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body.Error)
}

func TestHandler_Create(t *testing.T) {
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	router := newRouter(fake)

	rec, body := doRequest(t, router, http.MethodPost, "/api/students",
		`{"full_name":"Ana Souza","email":"ana@uni.edu","matricula":"2024001"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, body.Student)
	assert.Equal(t, user.ID, body.Student.UserID)
	assert.Equal(t, view.Succeeded(student.MsgCreated), *body.Notice)
	require.NotNil(t, body.List)
	assert.Equal(t, body.Student.ID, body.List.Rows[0].ID)

	t.Run("duplicate", func(t *testing.T) {
		rec, body := doRequest(t, router, http.MethodPost, "/api/students",
			`{"full_name":"Other Person","email":"ana@uni.edu","matricula":"2024999"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, view.Failed(student.MsgDuplicate), *body.Notice)
	})

	t.Run("invalid", func(t *testing.T) {
		rec, body := doRequest(t, router, http.MethodPost, "/api/students",
			`{"full_name":"Al","email":"not-an-email","matricula":"123"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, view.Failed(validation.MsgNameTooShort), *body.Notice)
		assert.Len(t, body.Errors, 3)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec, _ := doRequest(t, router, http.MethodPost, "/api/students", `{"full_name":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Update(t *testing.T) {
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	rows := seedStudents(fake, user.ID, 3)
	router := newRouter(fake)

	rec, body := doRequest(t, router, http.MethodPut, "/api/students/"+rows[0].ID.String(),
		`{"full_name":"Renamed Person"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, body.Student)
	assert.Equal(t, "Renamed Person", body.Student.FullName)
	assert.Equal(t, rows[0].Email, body.Student.Email)
	assert.Nil(t, body.List.Editing)

	stored, _ := fake.Row(rows[0].ID)
	assert.Equal(t, "Renamed Person", stored.FullName)

	rec, _ = doRequest(t, router, http.MethodPut, "/api/students/not-a-uuid", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, router, http.MethodPut, "/api/students/"+uuid.NewString(),
		`{"full_name":"Ghost Person","email":"ghost@uni.edu","matricula":"GHOST1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Delete(t *testing.T) {
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	rows := seedStudents(fake, user.ID, 3)
	router := newRouter(fake)
	target := "/api/students/" + rows[2].ID.String()

	rec, body := doRequest(t, router, http.MethodDelete, target, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body.Confirm, rows[2].FullName)
	require.NotNil(t, body.List.PendingDelete)
	assert.Equal(t, rows[2].ID, body.List.PendingDelete.ID)
	assert.Equal(t, 0, fake.Calls(backendtest.OpDelete))

	rec, body = doRequest(t, router, http.MethodDelete, target+"?confirm=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, view.Succeeded(student.MsgDeleted), *body.Notice)
	assert.Len(t, body.List.Rows, 2)
	_, ok := fake.Row(rows[2].ID)
	assert.False(t, ok)

	rec, _ = doRequest(t, router, http.MethodDelete, target+"?confirm=true", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Stream(t *testing.T) {
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	seedStudents(fake, user.ID, 1)

	srv := httptest.NewServer(newRouter(fake))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/students/stream", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan responseBody, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var body responseBody
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &body) == nil {
				events <- body
			}
		}
		close(events)
	}()

	first := <-events
	require.NotNil(t, first.List)
	assert.Len(t, first.List.Rows, 1)

	require.Eventually(t, func() bool { return fake.ActiveSubscriptions() == 1 }, 5*time.Second, 10*time.Millisecond)
	_, err = fake.Insert(ctx, record.Table, record.Student{
		FullName: "Live Insert", Email: "live@uni.edu", Matricula: "LIVE01", UserID: user.ID,
	})
	require.NoError(t, err)

	second := <-events
	require.NotNil(t, second.List)
	assert.Len(t, second.List.Rows, 2)
	assert.Equal(t, "Live Insert", second.List.Rows[0].FullName)

	cancel()
	require.Eventually(t, func() bool { return fake.ActiveSubscriptions() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandler_StreamEndsWhenSessionExpires(t *testing.T) {
	fake := backendtest.New()
	user := fake.SignedInAs("owner@uni.edu", "Secret#123")
	seedStudents(fake, user.ID, 1)
	fake.ExpireSessionAt(time.Now().Add(500 * time.Millisecond))

	srv := httptest.NewServer(newRouter(fake))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/students/stream", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var names []string
	var bodies []responseBody
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var body responseBody
			require.NoError(t, json.Unmarshal([]byte(data), &body))
			bodies = append(bodies, body)
		}
	}

	assert.Equal(t, []string{"state", "expired"}, names)
	require.Len(t, bodies, 2)
	assert.Equal(t, "session expired", bodies[1].Error)
	require.Eventually(t, func() bool { return fake.ActiveSubscriptions() == 0 }, 5*time.Second, 10*time.Millisecond)
}
