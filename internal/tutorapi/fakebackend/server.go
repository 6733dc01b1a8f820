// Package fakebackend serves the tutoring backend contract from memory for
// tests. It enforces the same lifecycle rules as the real backend.
package fakebackend

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"tutorflow/internal/calendar"
	"tutorflow/internal/model"
	"tutorflow/internal/tutorapi"
)

// Booking is an appointment as the backend stores it.
type Booking struct {
	ID          int
	StudentID   string
	StudentName string
	TutorID     int
	TutorUserID string
	TutorName   string
	CourseID    string
	CourseName  string
	Date        string
	Time        string
	Duration    int
	Status      model.AppointmentStatus
}

type failure struct {
	status  int
	message string
}

// Server is an in-memory backend.
type Server struct {
	mu sync.Mutex

	nextID   int
	bookings map[int]*Booking
	keys     map[string]int

	Courses       []model.Course
	Tutors        map[string][]model.Tutor
	TutorUsers    map[int]string
	Schedules     map[int][]model.Schedule
	Profiles      map[string]model.Profile
	TutorProfiles map[string]model.TutorProfile
	Logs          map[string][]model.AttendanceLog
	Reviews       []model.ReviewSubmission
	StudentNames  map[string]string

	// RawResponses overrides the body served for an exact path.
	RawResponses map[string]string

	failures map[string][]failure
	hits     map[string]int

	srv *httptest.Server
}

// New starts a server on a loopback port.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		nextID:        100,
		bookings:      make(map[int]*Booking),
		keys:          make(map[string]int),
		Tutors:        make(map[string][]model.Tutor),
		TutorUsers:    make(map[int]string),
		Schedules:     make(map[int][]model.Schedule),
		Profiles:      make(map[string]model.Profile),
		TutorProfiles: make(map[string]model.TutorProfile),
		Logs:          make(map[string][]model.AttendanceLog),
		StudentNames:  make(map[string]string),
		RawResponses:  make(map[string]string),
		failures:      make(map[string][]failure),
		hits:          make(map[string]int),
	}
	s.srv = httptest.NewServer(s.router())
	return s
}

// URL is the base URL to hand to tutorapi.New.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// Seed stores b and returns its id. A zero b.ID gets the next free id.
func (s *Server) Seed(b Booking) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		s.nextID++
		b.ID = s.nextID
	}
	if b.ID > s.nextID {
		s.nextID = b.ID
	}
	if b.Status == "" {
		b.Status = model.StatusScheduled
	}
	if b.Duration == 0 {
		b.Duration = tutorapi.DefaultDurationMinutes
	}
	s.bookings[b.ID] = &b
	return b.ID
}

// Booking returns a copy of the stored appointment.
func (s *Server) Booking(id int) (Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, false
	}
	return *b, true
}

// SetStatus changes a stored appointment behind the client's back.
func (s *Server) SetStatus(id int, st model.AppointmentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bookings[id]; ok {
		b.Status = st
	}
}

// BookingCount returns how many appointments exist.
func (s *Server) BookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

// FailNext makes the next request whose path starts with prefix answer
// with status and message instead of being handled.
func (s *Server) FailNext(prefix string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[prefix] = append(s.failures[prefix], failure{status: status, message: message})
}

// Hits counts handled requests whose path starts with prefix.
func (s *Server) Hits(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p, c := range s.hits {
		if strings.HasPrefix(p, prefix) {
			n += c
		}
	}
	return n
}

func (s *Server) interceptor(c *gin.Context) {
	path := c.Request.URL.Path
	s.mu.Lock()
	s.hits[path]++
	raw, hasRaw := s.RawResponses[path]
	var f *failure
	for prefix, queue := range s.failures {
		if strings.HasPrefix(path, prefix) && len(queue) > 0 {
			f = &queue[0]
			s.failures[prefix] = queue[1:]
			break
		}
	}
	s.mu.Unlock()

	if f != nil {
		c.AbortWithStatusJSON(f.status, gin.H{"message": f.message})
		return
	}
	if hasRaw {
		c.Data(http.StatusOK, "application/json", []byte(raw))
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(s.interceptor)

	r.GET("/upcoming-appointments/:user", func(c *gin.Context) {
		user := c.Param("user")
		c.JSON(http.StatusOK, s.list(func(b *Booking) bool {
			return b.StudentID == user && !b.Status.IsTerminal()
		}, studentView))
	})
	r.GET("/user-appointments/:user", func(c *gin.Context) {
		user := c.Param("user")
		c.JSON(http.StatusOK, s.list(func(b *Booking) bool { return b.StudentID == user }, dashboardView))
	})
	r.GET("/tutor-appointments/:user", func(c *gin.Context) {
		user := c.Param("user")
		c.JSON(http.StatusOK, s.list(func(b *Booking) bool { return b.TutorUserID == user }, tutorView))
	})
	r.GET("/tutor-upcoming-appointments/:user", func(c *gin.Context) {
		user := c.Param("user")
		c.JSON(http.StatusOK, s.list(func(b *Booking) bool {
			return b.TutorUserID == user && !b.Status.IsTerminal()
		}, tutorView))
	})

	r.POST("/create-appointment", s.createAppointment)
	r.PUT("/cancel-appointment/:id", s.transition(model.StatusCancelled))
	r.PUT("/checkin-appointment/:id", s.transition(model.StatusCheckedIn))
	r.POST("/submit-review", s.submitReview)

	r.GET("/courses", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c.JSON(http.StatusOK, s.Courses)
	})
	r.GET("/tutors-by-course/:course", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c.JSON(http.StatusOK, nonNil(s.Tutors[c.Param("course")]))
	})
	r.GET("/tutor-schedules/:tutor", func(c *gin.Context) {
		id, _ := strconv.Atoi(c.Param("tutor"))
		s.mu.Lock()
		defer s.mu.Unlock()
		c.JSON(http.StatusOK, nonNil(s.Schedules[id]))
	})
	r.GET("/tutor-attendance-logs/:user", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c.JSON(http.StatusOK, nonNil(s.Logs[c.Param("user")]))
	})

	r.GET("/profile/:user", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		p, ok := s.Profiles[c.Param("user")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "profile not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})
	r.PUT("/profile/:user", s.updateProfile)
	r.GET("/tutor-profile/:user", func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()
		p, ok := s.TutorProfiles[c.Param("user")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "tutor profile not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})
	r.PUT("/tutor-profile/:user", s.updateTutorProfile)
	return r
}

type view int

const (
	studentView view = iota
	tutorView
	dashboardView
)

func (s *Server) list(keep func(*Booking) bool, v view) []gin.H {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []gin.H{}
	for id := 0; id <= s.nextID; id++ {
		b, ok := s.bookings[id]
		if !ok || !keep(b) {
			continue
		}
		row := gin.H{
			"id":              b.ID,
			"courseName":      b.CourseName,
			"date":            b.Date,
			"time":            b.Time,
			"durationMinutes": b.Duration,
			"status":          string(b.Status),
			"checkedIn":       b.Status == model.StatusCheckedIn || b.Status == model.StatusCompleted,
		}
		if v == tutorView {
			row["studentName"] = b.StudentName
		} else {
			row["tutorName"] = b.TutorName
		}
		if v == dashboardView {
			if d, err := calendar.ParseDate(b.Date); err == nil {
				row["dayOfMonth"], row["month"], row["year"] = d.Day, d.Month, d.Year
			}
		}
		out = append(out, row)
	}
	return out
}

func (s *Server) createAppointment(c *gin.Context) {
	var req model.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if req.StudentID == "" || req.TutorID == 0 || req.CourseID == "" || req.Date == "" || req.StartTime == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing booking fields"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := c.GetHeader(tutorapi.IdempotencyHeader)
	if id, seen := s.keys[key]; key != "" && seen {
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": fmt.Sprintf("appointment %d already created", id)})
		return
	}

	s.nextID++
	b := &Booking{
		ID:          s.nextID,
		StudentID:   req.StudentID,
		StudentName: s.StudentNames[req.StudentID],
		TutorID:     req.TutorID,
		TutorUserID: s.TutorUsers[req.TutorID],
		TutorName:   s.tutorName(req.CourseID, req.TutorID),
		CourseID:    req.CourseID,
		CourseName:  s.courseName(req.CourseID),
		Date:        req.Date,
		Time:        req.StartTime,
		Duration:    req.Duration,
		Status:      model.StatusScheduled,
	}
	s.bookings[b.ID] = b
	if key != "" {
		s.keys[key] = b.ID
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) transition(to model.AppointmentStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "bad appointment id"})
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		b, ok := s.bookings[id]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "appointment not found"})
			return
		}
		if to == model.StatusCancelled && b.Status == model.StatusCancelled {
			c.JSON(http.StatusConflict, gin.H{"message": "appointment already cancelled"})
			return
		}
		next, err := b.Status.Transition(to)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
			return
		}
		b.Status = next
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

func (s *Server) submitReview(c *gin.Context) {
	var req model.ReviewSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[req.AppointmentID]
	if !ok || b.Status != model.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"message": "only completed appointments can be reviewed"})
		return
	}
	s.Reviews = append(s.Reviews, req)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) updateProfile(c *gin.Context) {
	var patch model.ProfileUpdate
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user := c.Param("user")
	p := s.Profiles[user]
	p.UserID = user
	apply(&p.FullName, patch.FullName)
	apply(&p.Email, patch.Email)
	apply(&p.Phone, patch.Phone)
	apply(&p.Major, patch.Major)
	apply(&p.Year, patch.Year)
	apply(&p.PhotoURL, patch.PhotoURL)
	s.Profiles[user] = p
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) updateTutorProfile(c *gin.Context) {
	var patch model.TutorProfileUpdate
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user := c.Param("user")
	p := s.TutorProfiles[user]
	p.UserID = user
	apply(&p.FullName, patch.FullName)
	apply(&p.Email, patch.Email)
	apply(&p.Phone, patch.Phone)
	apply(&p.Department, patch.Department)
	apply(&p.Bio, patch.Bio)
	apply(&p.PhotoURL, patch.PhotoURL)
	if patch.Courses != nil {
		p.Courses = *patch.Courses
	}
	s.TutorProfiles[user] = p
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) tutorName(courseID string, tutorID int) string {
	for _, t := range s.Tutors[courseID] {
		if t.TutorID == tutorID {
			return t.FullName
		}
	}
	return ""
}

func (s *Server) courseName(courseID string) string {
	for _, c := range s.Courses {
		if c.ID == courseID {
			return c.Name
		}
	}
	return courseID
}

func apply(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
