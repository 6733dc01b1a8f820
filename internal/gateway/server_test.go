package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tutorflow/internal/auth"
	"tutorflow/internal/cloudinary"
	"tutorflow/internal/journal"
	"tutorflow/internal/lifecycle"
	"tutorflow/internal/model"
	"tutorflow/internal/queue"
	"tutorflow/internal/tutorapi"
	"tutorflow/internal/tutorapi/fakebackend"
)

const (
	testKey    = "gateway-test-key"
	testIssuer = "gateway-test"
)

var (
	studentID = model.Identity{UserID: "7", DisplayName: "Grace Hopper", Role: model.RoleStudent}
	tutorID   = model.Identity{UserID: "t3", DisplayName: "Ada Lovelace", Role: model.RoleTutor}
)

type testEnv struct {
	fb      *fakebackend.Server
	srv     *Server
	handler http.Handler
	events  *queue.InMemory
}

type stubPhotos struct{ calls int }

func (p *stubPhotos) UploadProfilePhoto(_ context.Context, userID string, data []byte, _ string) (*cloudinary.UploadResult, error) {
	p.calls++
	return &cloudinary.UploadResult{PublicID: "user-" + userID, SecureURL: "https://img.example/" + userID + ".jpg", Bytes: len(data)}, nil
}

func (p *stubPhotos) UploadProfilePhotoDataURL(_ context.Context, userID, _ string) (*cloudinary.UploadResult, error) {
	p.calls++
	return &cloudinary.UploadResult{PublicID: "user-" + userID, SecureURL: "https://img.example/" + userID + ".jpg"}, nil
}

type stubActivity struct{ last journal.Filter }

func (a *stubActivity) List(_ context.Context, f journal.Filter) ([]journal.Entry, error) {
	a.last = f
	return []journal.Entry{{ID: "e1", Type: queue.TypeBooked, UserID: f.UserID}}, nil
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fb := fakebackend.New()
	t.Cleanup(fb.Close)
	fb.Courses = []model.Course{{ID: "12", Name: "Calculus", Department: "Math"}}
	fb.Tutors["12"] = []model.Tutor{{TutorID: 3, FullName: "Ada Lovelace", Rating: 4.9}}
	fb.Schedules[3] = []model.Schedule{{ScheduleID: 1, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", IsAvailable: true}}
	fb.TutorUsers[3] = "t3"
	fb.StudentNames["7"] = "Grace Hopper"

	backend := tutorapi.New(fb.URL(), 5*time.Second, nil)
	events := queue.NewInMemory(64)
	srv := New(Options{
		SigningKey:      testKey,
		Issuer:          testIssuer,
		RateLimitPerMin: 10_000,
		SessionIdleTTL:  time.Minute,
		DevTokenTTL:     time.Minute,
	}, Deps{
		Backend:   backend,
		Catalog:   tutorapi.NewCachedCatalog(backend, 16, time.Minute),
		Publisher: events,
		Photos:    &stubPhotos{},
		Activity:  &stubActivity{},
		Health:    map[string]HealthCheck{"backend": func(context.Context) bool { return true }},
	})
	return &testEnv{fb: fb, srv: srv, handler: srv.Router(), events: events}
}

func token(t *testing.T, id model.Identity) string {
	t.Helper()
	tok, _, err := auth.Issue(id, testIssuer, testKey, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

type listResponse struct {
	SessionID    string              `json:"sessionId"`
	Appointments []model.Appointment `json:"appointments"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expect(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("status = %d, want %d: %s", w.Code, code, w.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t)
	existing := e.fb.Seed(fakebackend.Booking{StudentID: "7", TutorName: "Ada Lovelace", CourseName: "Calculus", Date: "April 2, 2025", Time: "9:00 AM"})
	done := e.fb.Seed(fakebackend.Booking{StudentID: "7", Date: "March 1, 2025", Status: model.StatusCompleted})
	tok := token(t, studentID)

	w := e.do(t, http.MethodPost, "/v1/sessions", tok, nil)
	expect(t, w, http.StatusCreated)
	opened := decode[listResponse](t, w)
	if opened.SessionID == "" || len(opened.Appointments) != 1 || opened.Appointments[0].ID != existing {
		t.Fatalf("open = %+v", opened)
	}
	base := "/v1/sessions/" + opened.SessionID

	w = e.do(t, http.MethodPost, base+"/appointments", tok, lifecycle.BookingRequest{TutorID: 3, CourseID: "12", Date: "April 20, 2025", StartTime: "10:00 AM"})
	expect(t, w, http.StatusCreated)
	if got := decode[listResponse](t, w); len(got.Appointments) != 2 {
		t.Fatalf("after booking: %+v", got)
	}

	w = e.do(t, http.MethodGet, base+"/calendar?month=3&year=2025", tok, nil)
	expect(t, w, http.StatusOK)
	cal := decode[struct {
		Days []struct {
			Day          int                 `json:"day"`
			Appointments []model.Appointment `json:"appointments"`
		} `json:"days"`
	}](t, w)
	if len(cal.Days) != 2 || cal.Days[0].Day != 2 || cal.Days[1].Day != 20 {
		t.Fatalf("calendar = %+v", cal)
	}

	w = e.do(t, http.MethodPost, base+"/appointments/"+itoa(existing)+"/cancel", tok, nil)
	expect(t, w, http.StatusOK)
	if got := decode[listResponse](t, w); len(got.Appointments) != 1 {
		t.Fatalf("after cancel: %+v", got)
	}
	w = e.do(t, http.MethodPost, base+"/appointments/"+itoa(existing)+"/cancel", tok, nil)
	expect(t, w, http.StatusOK)

	w = e.do(t, http.MethodPost, base+"/appointments/"+itoa(done)+"/checkin", tok, nil)
	expect(t, w, http.StatusConflict)

	w = e.do(t, http.MethodPost, base+"/appointments/"+itoa(done)+"/review", tok, gin.H{"rating": 9})
	expect(t, w, http.StatusBadRequest)
	w = e.do(t, http.MethodPost, base+"/appointments/"+itoa(done)+"/review", tok, gin.H{"rating": 5, "text": "great", "tags": []string{"clear"}})
	expect(t, w, http.StatusOK)

	w = e.do(t, http.MethodGet, base+"/appointments", token(t, model.Identity{UserID: "8", Role: model.RoleStudent}), nil)
	expect(t, w, http.StatusNotFound)
	w = e.do(t, http.MethodGet, "/v1/sessions/nope/appointments", tok, nil)
	expect(t, w, http.StatusNotFound)

	w = e.do(t, http.MethodDelete, base, tok, nil)
	expect(t, w, http.StatusNoContent)
	w = e.do(t, http.MethodGet, base+"/appointments", tok, nil)
	expect(t, w, http.StatusGone)

	var types []string
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, _ := e.events.Consume(ctx)
	for len(types) < 3 {
		select {
		case msg := <-out:
			types = append(types, msg.Type)
		case <-ctx.Done():
			t.Fatalf("events = %v", types)
		}
	}
	if types[0] != queue.TypeBooked || types[1] != queue.TypeCancelled || types[2] != queue.TypeCancelled {
		t.Fatalf("events = %v", types)
	}
}

func TestRefreshPicksUpServerChanges(t *testing.T) {
	e := newEnv(t)
	tok := token(t, studentID)
	w := e.do(t, http.MethodPost, "/v1/sessions", tok, nil)
	expect(t, w, http.StatusCreated)
	base := "/v1/sessions/" + decode[listResponse](t, w).SessionID

	e.fb.Seed(fakebackend.Booking{StudentID: "7", Date: "May 10, 2025"})
	if got := decode[listResponse](t, e.do(t, http.MethodGet, base+"/appointments", tok, nil)); len(got.Appointments) != 0 {
		t.Fatal("list changed without refresh")
	}
	if got := decode[listResponse](t, e.do(t, http.MethodGet, base+"/appointments?refresh=1", tok, nil)); len(got.Appointments) != 1 {
		t.Fatal("refresh did not reload")
	}
}

func TestBackendFailureMapping(t *testing.T) {
	e := newEnv(t)
	tok := token(t, studentID)

	e.fb.FailNext("/upcoming-appointments", http.StatusInternalServerError, "db down")
	expect(t, e.do(t, http.MethodPost, "/v1/sessions", tok, nil), http.StatusBadGateway)

	e.fb.RawResponses["/upcoming-appointments/7"] = `[{"id":1,"status":"postponed"}]`
	expect(t, e.do(t, http.MethodPost, "/v1/sessions", tok, nil), http.StatusBadGateway)
	delete(e.fb.RawResponses, "/upcoming-appointments/7")

	w := e.do(t, http.MethodPost, "/v1/sessions", tok, nil)
	expect(t, w, http.StatusCreated)
	base := "/v1/sessions/" + decode[listResponse](t, w).SessionID

	expect(t, e.do(t, http.MethodPost, base+"/appointments/999/cancel", tok, nil), http.StatusNotFound)
	expect(t, e.do(t, http.MethodPost, base+"/appointments/abc/cancel", tok, nil), http.StatusBadRequest)
	expect(t, e.do(t, http.MethodPost, base+"/appointments", tok, gin.H{"tutorId": 3}), http.StatusBadRequest)

	e.fb.Close()
	expect(t, e.do(t, http.MethodGet, base+"/appointments?refresh=1", tok, nil), http.StatusBadGateway)
}

func TestTutorCannotBook(t *testing.T) {
	e := newEnv(t)
	tok := token(t, tutorID)
	w := e.do(t, http.MethodPost, "/v1/sessions", tok, nil)
	expect(t, w, http.StatusCreated)
	base := "/v1/sessions/" + decode[listResponse](t, w).SessionID
	w = e.do(t, http.MethodPost, base+"/appointments", tok, lifecycle.BookingRequest{TutorID: 3, CourseID: "12", Date: "April 20, 2025", StartTime: "10:00 AM"})
	expect(t, w, http.StatusForbidden)
}

func TestCatalogIsCached(t *testing.T) {
	e := newEnv(t)
	tok := token(t, studentID)
	for i := 0; i < 3; i++ {
		expect(t, e.do(t, http.MethodGet, "/v1/courses", tok, nil), http.StatusOK)
	}
	if n := e.fb.Hits("/courses"); n != 1 {
		t.Fatalf("backend hit %d times", n)
	}

	w := e.do(t, http.MethodGet, "/v1/courses/12/tutors", tok, nil)
	expect(t, w, http.StatusOK)
	if got := decode[struct{ Tutors []model.Tutor }](t, w); len(got.Tutors) != 1 {
		t.Fatalf("tutors = %+v", got)
	}
	w = e.do(t, http.MethodGet, "/v1/tutors/3/schedules", tok, nil)
	expect(t, w, http.StatusOK)
	if got := decode[struct{ Schedules []model.Schedule }](t, w); len(got.Schedules) != 1 {
		t.Fatalf("schedules = %+v", got)
	}
	expect(t, e.do(t, http.MethodGet, "/v1/tutors/x/schedules", tok, nil), http.StatusBadRequest)
}

func TestBookingInvalidatesCachedSchedules(t *testing.T) {
	e := newEnv(t)
	tok := token(t, studentID)
	w := e.do(t, http.MethodPost, "/v1/sessions", tok, nil)
	expect(t, w, http.StatusCreated)
	base := "/v1/sessions/" + decode[listResponse](t, w).SessionID

	for i := 0; i < 2; i++ {
		expect(t, e.do(t, http.MethodGet, "/v1/tutors/3/schedules", tok, nil), http.StatusOK)
	}
	if n := e.fb.Hits("/tutor-schedules"); n != 1 {
		t.Fatalf("schedules fetched %d times before booking", n)
	}

	w = e.do(t, http.MethodPost, base+"/appointments", tok, lifecycle.BookingRequest{TutorID: 3, CourseID: "12", Date: "April 20, 2025", StartTime: "10:00 AM"})
	expect(t, w, http.StatusCreated)

	expect(t, e.do(t, http.MethodGet, "/v1/tutors/3/schedules", tok, nil), http.StatusOK)
	if n := e.fb.Hits("/tutor-schedules"); n != 2 {
		t.Fatalf("schedules fetched %d times after booking, want 2", n)
	}
}

func TestProfileByRole(t *testing.T) {
	e := newEnv(t)
	e.fb.Profiles["7"] = model.Profile{UserID: "7", FullName: "Grace Hopper"}
	e.fb.TutorProfiles["t3"] = model.TutorProfile{UserID: "t3", TutorID: 3, FullName: "Ada Lovelace"}

	stok := token(t, studentID)
	w := e.do(t, http.MethodPut, "/v1/profile", stok, gin.H{"major": "Mathematics"})
	expect(t, w, http.StatusOK)
	if p := decode[model.Profile](t, w); p.Major != "Mathematics" || p.FullName != "Grace Hopper" {
		t.Fatalf("profile = %+v", p)
	}

	w = e.do(t, http.MethodGet, "/v1/profile", token(t, tutorID), nil)
	expect(t, w, http.StatusOK)
	if p := decode[model.TutorProfile](t, w); p.TutorID != 3 {
		t.Fatalf("tutor profile = %+v", p)
	}

	expect(t, e.do(t, http.MethodGet, "/v1/profile", token(t, model.Identity{UserID: "nobody", Role: model.RoleStudent}), nil), http.StatusNotFound)
}

func TestPhotoUploadUpdatesProfile(t *testing.T) {
	e := newEnv(t)
	e.fb.Profiles["7"] = model.Profile{UserID: "7"}
	w := e.do(t, http.MethodPost, "/v1/profile/photo", token(t, studentID), gin.H{"data": "data:image/png;base64,iVBORw0KGgo="})
	expect(t, w, http.StatusOK)
	if got := e.fb.Profiles["7"].PhotoURL; got != "https://img.example/7.jpg" {
		t.Fatalf("photoUrl = %q", got)
	}
	expect(t, e.do(t, http.MethodPost, "/v1/profile/photo", token(t, studentID), gin.H{}), http.StatusBadRequest)
}

func TestAttendanceLogs(t *testing.T) {
	e := newEnv(t)
	e.fb.Logs["t3"] = []model.AttendanceLog{
		{AppointmentID: 1, CounterpartyName: "Grace", CourseCode: "MATH101", Date: "March 15, 2025", Status: "completed", Checkin: "Yes"},
		{AppointmentID: 2, CounterpartyName: "Alan", CourseCode: "CS50", Date: "May 10, 2025", Status: "no_show", Checkin: "No"},
	}
	ttok := token(t, tutorID)

	expect(t, e.do(t, http.MethodGet, "/v1/attendance-logs", token(t, studentID), nil), http.StatusForbidden)

	w := e.do(t, http.MethodGet, "/v1/attendance-logs", ttok, nil)
	expect(t, w, http.StatusOK)
	if got := decode[struct{ Logs []model.AttendanceLog }](t, w); len(got.Logs) != 2 || got.Logs[0].Month != 2 {
		t.Fatalf("logs = %+v", got)
	}
	w = e.do(t, http.MethodGet, "/v1/attendance-logs?month=4&year=2025", ttok, nil)
	if got := decode[struct{ Logs []model.AttendanceLog }](t, w); len(got.Logs) != 1 || got.Logs[0].AppointmentID != 2 {
		t.Fatalf("filtered logs = %+v", got)
	}

	expect(t, e.do(t, http.MethodGet, "/v1/attendance-logs?month=4", ttok, nil), http.StatusBadRequest)
	expect(t, e.do(t, http.MethodGet, "/v1/attendance-logs?year=2025", ttok, nil), http.StatusBadRequest)

	w = e.do(t, http.MethodGet, "/v1/attendance-logs/export", ttok, nil)
	expect(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("content type = %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatal("export is not a zip container")
	}
}

func TestActivityIsScopedToCaller(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/v1/activity?type=appointment.booked&limit=5", token(t, studentID), nil)
	expect(t, w, http.StatusOK)
	a := e.srv.activity.(*stubActivity)
	if a.last.UserID != "7" || a.last.Type != queue.TypeBooked || a.last.Limit != 5 {
		t.Fatalf("filter = %+v", a.last)
	}
}

func TestAuthAndHealth(t *testing.T) {
	e := newEnv(t)
	expect(t, e.do(t, http.MethodGet, "/v1/courses", "", nil), http.StatusUnauthorized)
	expect(t, e.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)

	w := e.do(t, http.MethodPost, "/v1/dev/token", "", gin.H{"userId": "7", "role": "student"})
	expect(t, w, http.StatusCreated)
	tok := decode[struct {
		AccessToken string `json:"access_token"`
	}](t, w).AccessToken
	expect(t, e.do(t, http.MethodGet, "/v1/courses", tok, nil), http.StatusOK)
	expect(t, e.do(t, http.MethodPost, "/v1/dev/token", "", gin.H{"userId": "7", "role": "admin"}), http.StatusBadRequest)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errUnknownSession, http.StatusNotFound},
		{model.ErrSessionClosed, http.StatusGone},
		{&model.StaleStateError{AppointmentID: 1, Err: &model.ServerRejectedError{StatusCode: 500}}, http.StatusConflict},
		{lifecycle.ErrOperationPending, http.StatusConflict},
		{model.ErrInvalidRating, http.StatusBadRequest},
		{lifecycle.ErrStudentOnly, http.StatusForbidden},
		{&model.ServerRejectedError{StatusCode: 404}, http.StatusNotFound},
		{&model.ServerRejectedError{StatusCode: 503}, http.StatusBadGateway},
		{&model.NetworkError{Err: errors.New("refused")}, http.StatusBadGateway},
		{&model.NetworkError{Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&model.DecodeError{Field: "status"}, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got, _ := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
