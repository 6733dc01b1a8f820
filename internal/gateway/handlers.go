package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tutorflow/internal/auth"
	"tutorflow/internal/cloudinary"
	"tutorflow/internal/journal"
	"tutorflow/internal/lifecycle"
	"tutorflow/internal/model"
	"tutorflow/internal/report"
)

const maxPhotoBytes = 5 << 20

func (s *Server) identity(c *gin.Context) model.Identity {
	id, _ := auth.IdentityFrom(c)
	return id
}

// controller resolves :sid for the caller, writing the error response when
// it cannot.
func (s *Server) controller(c *gin.Context) (*lifecycle.Controller, bool) {
	ctrl, err := s.sessions.Get(c.Param("sid"), s.identity(c).UserID)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return ctrl, true
}

func appointmentID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "appointment id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) devToken(c *gin.Context) {
	var id model.Identity
	if err := c.ShouldBindJSON(&id); err != nil {
		badRequest(c, err.Error())
		return
	}
	if id.UserID == "" || (id.Role != model.RoleStudent && id.Role != model.RoleTutor) {
		badRequest(c, "userId and a student or tutor role are required")
		return
	}
	tok, exp, err := auth.Issue(id, s.opts.Issuer, s.opts.SigningKey, s.opts.DevTokenTTL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access_token": tok, "expires_at": exp.Unix()})
}

// openSession is screen entry: a new controller with its first load.
func (s *Server) openSession(c *gin.Context) {
	id := s.identity(c)
	api := s.backend.WithToken(auth.TokenFrom(c))
	ctrl := lifecycle.NewController(id, api, s.keys, s.pub, s.logger)
	if err := ctrl.LoadAppointments(c.Request.Context()); err != nil {
		ctrl.Close()
		s.fail(c, err)
		return
	}
	sid := s.sessions.Open(ctrl)
	c.JSON(http.StatusCreated, gin.H{"sessionId": sid, "appointments": ctrl.Appointments()})
}

// closeSession is screen exit.
func (s *Server) closeSession(c *gin.Context) {
	if err := s.sessions.Close(c.Param("sid"), s.identity(c).UserID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listAppointments(c *gin.Context) {
	ctrl, ok := s.controller(c)
	if !ok {
		return
	}
	if refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "0")); refresh {
		if err := ctrl.LoadAppointments(c.Request.Context()); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"appointments": ctrl.Appointments()})
}

// calendar serves the day index of a month. month is zero-based; both
// default to the current month.
func (s *Server) calendar(c *gin.Context) {
	ctrl, ok := s.controller(c)
	if !ok {
		return
	}
	now := time.Now()
	month, err := strconv.Atoi(c.DefaultQuery("month", strconv.Itoa(int(now.Month())-1)))
	if err != nil || month < 0 || month > 11 {
		badRequest(c, "month must be 0..11")
		return
	}
	year, err := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(now.Year())))
	if err != nil || year < 1 {
		badRequest(c, "year must be a positive integer")
		return
	}

	idx, idxErr := ctrl.DayIndex(month, year)
	days := make([]gin.H, 0, len(idx))
	for _, d := range idx.Days() {
		days = append(days, gin.H{"day": d, "appointments": idx[d]})
	}
	body := gin.H{"month": month, "year": year, "days": days}
	if idxErr != nil {
		// Unparsable dates are left out of the index and reported alongside.
		body["skipped"] = strings.Split(idxErr.Error(), "\n")
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) book(c *gin.Context) {
	ctrl, ok := s.controller(c)
	if !ok {
		return
	}
	var req lifecycle.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := ctrl.Book(c.Request.Context(), req); err != nil {
		s.fail(c, err)
		return
	}
	s.invalidateSchedules(req.TutorID)
	c.JSON(http.StatusCreated, gin.H{"appointments": ctrl.Appointments()})
}

// invalidateSchedules drops the tutor's cached availability when the
// catalog is cached.
func (s *Server) invalidateSchedules(tutorID int) {
	if inv, ok := s.catalog.(interface{ InvalidateSchedules(int) }); ok {
		inv.InvalidateSchedules(tutorID)
	}
}

func (s *Server) cancel(c *gin.Context) {
	s.mutate(c, (*lifecycle.Controller).Cancel)
}

func (s *Server) checkIn(c *gin.Context) {
	s.mutate(c, (*lifecycle.Controller).CheckIn)
}

func (s *Server) mutate(c *gin.Context, op func(*lifecycle.Controller, context.Context, int) error) {
	ctrl, ok := s.controller(c)
	if !ok {
		return
	}
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	if err := op(ctrl, c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": ctrl.Appointments()})
}

func (s *Server) review(c *gin.Context) {
	ctrl, ok := s.controller(c)
	if !ok {
		return
	}
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	var body struct {
		Rating int      `json:"rating"`
		Text   string   `json:"text"`
		Tags   []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := ctrl.SubmitReview(c.Request.Context(), id, body.Rating, body.Text, body.Tags); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) courses(c *gin.Context) {
	out, err := s.catalog.FetchCourses(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": out})
}

func (s *Server) tutors(c *gin.Context) {
	out, err := s.catalog.FetchTutorsByCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tutors": out})
}

func (s *Server) schedules(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "tutor id must be a positive integer")
		return
	}
	out, err := s.catalog.FetchTutorSchedules(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": out})
}

func (s *Server) getProfile(c *gin.Context) {
	id := s.identity(c)
	api := s.backend.WithToken(auth.TokenFrom(c))
	var (
		out any
		err error
	)
	if id.IsTutor() {
		out, err = api.FetchTutorProfile(c.Request.Context(), id.UserID)
	} else {
		out, err = api.FetchProfile(c.Request.Context(), id.UserID)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) updateProfile(c *gin.Context) {
	id := s.identity(c)
	api := s.backend.WithToken(auth.TokenFrom(c))
	var err error
	if id.IsTutor() {
		var patch model.TutorProfileUpdate
		if berr := c.ShouldBindJSON(&patch); berr != nil {
			badRequest(c, berr.Error())
			return
		}
		_, err = api.UpdateTutorProfile(c.Request.Context(), id.UserID, patch)
	} else {
		var patch model.ProfileUpdate
		if berr := c.ShouldBindJSON(&patch); berr != nil {
			badRequest(c, berr.Error())
			return
		}
		_, err = api.UpdateProfile(c.Request.Context(), id.UserID, patch)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.getProfile(c)
}

// uploadPhoto accepts a multipart "file" or a JSON {"data": "<data URL>"},
// stores it and points the profile at it.
func (s *Server) uploadPhoto(c *gin.Context) {
	if s.photos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo storage not configured", "kind": "unavailable"})
		return
	}
	id := s.identity(c)
	ctx := c.Request.Context()

	var (
		res *cloudinary.UploadResult
		err error
	)
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			badRequest(c, "file field required")
			return
		}
		defer file.Close()
		data, ferr := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
		if ferr != nil {
			badRequest(c, "read file failed")
			return
		}
		if len(data) > maxPhotoBytes {
			badRequest(c, fmt.Sprintf("photo larger than %d bytes", maxPhotoBytes))
			return
		}
		res, err = s.photos.UploadProfilePhoto(ctx, id.UserID, data, header.Filename)
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			badRequest(c, `provide {"data": "<base64 data URL>"} or a multipart file`)
			return
		}
		res, err = s.photos.UploadProfilePhotoDataURL(ctx, id.UserID, body.Data)
	}
	if err != nil {
		s.logger.Printf("gateway.photo upload user=%s failed: %v", id.UserID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed", "kind": "upload_failed"})
		return
	}

	api := s.backend.WithToken(auth.TokenFrom(c))
	url := res.SecureURL
	if id.IsTutor() {
		_, err = api.UpdateTutorProfile(ctx, id.UserID, model.TutorProfileUpdate{PhotoURL: &url})
	} else {
		_, err = api.UpdateProfile(ctx, id.UserID, model.ProfileUpdate{PhotoURL: &url})
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photoUrl": url, "publicId": res.PublicID})
}

func (s *Server) fetchLogs(c *gin.Context) ([]model.AttendanceLog, bool) {
	id := s.identity(c)
	if !id.IsTutor() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "attendance logs are available to tutors only", "kind": "forbidden"})
		return nil, false
	}
	logs, err := s.backend.WithToken(auth.TokenFrom(c)).FetchAttendanceLogs(c.Request.Context(), id.UserID)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return logs, true
}

// attendanceLogs lists logs, optionally only those of one zero-based month.
func (s *Server) attendanceLogs(c *gin.Context) {
	m, y := c.Query("month"), c.Query("year")
	if (m == "") != (y == "") {
		badRequest(c, "month and year must be given together")
		return
	}
	logs, ok := s.fetchLogs(c)
	if !ok {
		return
	}
	if m != "" {
		month, merr := strconv.Atoi(m)
		year, yerr := strconv.Atoi(y)
		if merr != nil || yerr != nil || month < 0 || month > 11 {
			badRequest(c, "month must be 0..11 and year an integer")
			return
		}
		filtered := logs[:0:0]
		for _, l := range logs {
			if l.Month == month && l.Year == year {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) exportAttendance(c *gin.Context) {
	logs, ok := s.fetchLogs(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteAttendance(&buf, logs); err != nil {
		s.fail(c, err)
		return
	}
	name := fmt.Sprintf("attendance-%s-%s.xlsx", s.identity(c).UserID, time.Now().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// listActivity returns the caller's journaled lifecycle events.
func (s *Server) listActivity(c *gin.Context) {
	if s.activity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "activity journal not configured", "kind": "unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	appt, _ := strconv.Atoi(c.Query("appointmentId"))
	entries, err := s.activity.List(c.Request.Context(), journal.Filter{
		UserID:        s.identity(c).UserID,
		AppointmentID: appt,
		Type:          c.Query("type"),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"events": entries})
}
