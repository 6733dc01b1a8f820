package model

// Course is immutable reference data served by the backend.
type Course struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Department  string `json:"department"`
	Description string `json:"description"`
}

// Tutor is a tutor teaching a course.
type Tutor struct {
	TutorID    int     `json:"tutorId"`
	FullName   string  `json:"fullName"`
	Rating     float64 `json:"rating"`
	Department string  `json:"department"`
}

// Schedule is one weekly availability window of a tutor.
// DayOfWeek is 0..6 and StartTime is always before EndTime.
type Schedule struct {
	ScheduleID  int    `json:"scheduleId"`
	DayOfWeek   int    `json:"dayOfWeek"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	IsAvailable bool   `json:"isAvailable"`
}

// Appointment is a tutoring session as seen by one side of it.
// CounterpartyName is the tutor for a student and the student for a tutor.
type Appointment struct {
	ID               int               `json:"id"`
	CounterpartyName string            `json:"counterpartyName"`
	CourseName       string            `json:"courseName"`
	Date             string            `json:"date"`
	Time             string            `json:"time"`
	DurationMinutes  int               `json:"durationMinutes"`
	Status           AppointmentStatus `json:"status"`
	CheckedIn        bool              `json:"checkedIn"`
}

// DashboardAppointment carries the calendar position the server computed
// for the dashboard. Month is zero-based.
type DashboardAppointment struct {
	Appointment
	DayOfMonth int `json:"dayOfMonth"`
	Month      int `json:"month"`
	Year       int `json:"year"`
}

// AttendanceLog is a read-only historical record of a past appointment.
// DayOfMonth, Month (zero-based) and Year are derived from Date.
type AttendanceLog struct {
	AppointmentID    int               `json:"appointmentId"`
	CounterpartyName string            `json:"counterpartyName"`
	CourseCode       string            `json:"courseCode"`
	CourseTitle      string            `json:"courseTitle"`
	Date             string            `json:"date"`
	Status           AppointmentStatus `json:"status"`
	Checkin          string            `json:"checkin"`

	DayOfMonth int `json:"dayOfMonth"`
	Month      int `json:"month"`
	Year       int `json:"year"`
}

// IsCheckedIn reports whether the session was checked in.
func (l AttendanceLog) IsCheckedIn() bool { return l.Checkin == "Yes" }

// Profile is the student account profile.
type Profile struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Major    string `json:"major"`
	Year     string `json:"year"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

// TutorProfile is the tutor account profile.
type TutorProfile struct {
	UserID     string   `json:"userId"`
	TutorID    int      `json:"tutorId"`
	FullName   string   `json:"fullName"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Department string   `json:"department"`
	Bio        string   `json:"bio"`
	Courses    []string `json:"courses"`
	PhotoURL   string   `json:"photoUrl,omitempty"`
}

// ProfileUpdate is a partial profile change; nil fields are left as they are.
type ProfileUpdate struct {
	FullName *string `json:"fullName,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Major    *string `json:"major,omitempty"`
	Year     *string `json:"year,omitempty"`
	PhotoURL *string `json:"photoUrl,omitempty"`
}

// TutorProfileUpdate is a partial tutor profile change.
type TutorProfileUpdate struct {
	FullName   *string   `json:"fullName,omitempty"`
	Email      *string   `json:"email,omitempty"`
	Phone      *string   `json:"phone,omitempty"`
	Department *string   `json:"department,omitempty"`
	Bio        *string   `json:"bio,omitempty"`
	Courses    *[]string `json:"courses,omitempty"`
	PhotoURL   *string   `json:"photoUrl,omitempty"`
}

// CreateAppointmentRequest is the booking payload.
type CreateAppointmentRequest struct {
	StudentID string `json:"studentId"`
	TutorID   int    `json:"tutorId"`
	CourseID  string `json:"courseId"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	Duration  int    `json:"duration"`
}

// ReviewSubmission is the review payload; Rating is 1..5.
type ReviewSubmission struct {
	AppointmentID int      `json:"appointmentId"`
	Rating        int      `json:"rating"`
	Text          string   `json:"text"`
	Tags          []string `json:"tags"`
}

// StatusResponse is what every mutating backend call returns.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Role of the signed-in account.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// Identity is who a controller session acts for. It comes from the
// identity provider and is passed in explicitly.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// IsTutor reports whether the identity acts as a tutor.
func (i Identity) IsTutor() bool { return i.Role == RoleTutor }
