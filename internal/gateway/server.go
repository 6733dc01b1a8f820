// Package gateway is the screen-facing HTTP surface. Each screen opens a
// session that owns one lifecycle controller; the remaining routes proxy
// reference data, profiles and attendance logs.
package gateway

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"tutorflow/internal/auth"
	"tutorflow/internal/cloudinary"
	"tutorflow/internal/httpmiddleware"
	"tutorflow/internal/journal"
	"tutorflow/internal/lifecycle"
	"tutorflow/internal/tutorapi"
)

// PhotoUploader stores profile photos. *cloudinary.Client satisfies it.
type PhotoUploader interface {
	UploadProfilePhoto(ctx context.Context, userID string, data []byte, filename string) (*cloudinary.UploadResult, error)
	UploadProfilePhotoDataURL(ctx context.Context, userID, dataURL string) (*cloudinary.UploadResult, error)
}

// ActivityLister reads the lifecycle journal. *journal.Repository
// satisfies it.
type ActivityLister interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configures a Server.
type Options struct {
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	SessionIdleTTL  time.Duration
	CORSOrigins     []string
	// DevTokenTTL enables POST /v1/dev/token when positive.
	DevTokenTTL time.Duration
}

// Deps are the collaborators of a Server. Backend is required; Catalog
// defaults to Backend; nil Photos or Activity disable their routes.
type Deps struct {
	Backend   *tutorapi.Client
	Catalog   tutorapi.Catalog
	Keys      lifecycle.KeyStore
	Publisher lifecycle.Publisher
	Photos    PhotoUploader
	Activity  ActivityLister
	Health    map[string]HealthCheck
	Logger    *log.Logger
}

// Server hosts the gateway routes.
type Server struct {
	opts     Options
	backend  *tutorapi.Client
	catalog  tutorapi.Catalog
	keys     lifecycle.KeyStore
	pub      lifecycle.Publisher
	photos   PhotoUploader
	activity ActivityLister
	health   map[string]HealthCheck
	logger   *log.Logger

	sessions *Registry
	limiter  *httpmiddleware.TokenBucket
}

// New builds a Server.
func New(opts Options, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Catalog == nil {
		deps.Catalog = deps.Backend
	}
	if deps.Keys == nil {
		deps.Keys = lifecycle.NewMemoryKeys()
	}
	return &Server{
		opts:     opts,
		backend:  deps.Backend,
		catalog:  deps.Catalog,
		keys:     deps.Keys,
		pub:      deps.Publisher,
		photos:   deps.Photos,
		activity: deps.Activity,
		health:   deps.Health,
		logger:   deps.Logger,
		sessions: NewRegistry(opts.SessionIdleTTL),
		limiter:  httpmiddleware.NewTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin),
	}
}

// Sessions exposes the session registry.
func (s *Server) Sessions() *Registry { return s.sessions }

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    s.logger.Writer(),
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(s.corsConfig()))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	if s.opts.DevTokenTTL > 0 {
		r.POST("/v1/dev/token", s.devToken)
	}

	v1 := r.Group("/v1", auth.IdentityAuth(s.opts.SigningKey, s.opts.Issuer), s.limiter.GinMiddleware())

	v1.POST("/sessions", s.openSession)
	v1.DELETE("/sessions/:sid", s.closeSession)
	v1.GET("/sessions/:sid/appointments", s.listAppointments)
	v1.GET("/sessions/:sid/calendar", s.calendar)
	v1.POST("/sessions/:sid/appointments", s.book)
	v1.POST("/sessions/:sid/appointments/:id/cancel", s.cancel)
	v1.POST("/sessions/:sid/appointments/:id/checkin", s.checkIn)
	v1.POST("/sessions/:sid/appointments/:id/review", s.review)

	v1.GET("/courses", s.courses)
	v1.GET("/courses/:id/tutors", s.tutors)
	v1.GET("/tutors/:id/schedules", s.schedules)

	v1.GET("/profile", s.getProfile)
	v1.PUT("/profile", s.updateProfile)
	v1.POST("/profile/photo", s.uploadPhoto)

	v1.GET("/attendance-logs", s.attendanceLogs)
	v1.GET("/attendance-logs/export", s.exportAttendance)
	v1.GET("/activity", s.listActivity)

	return r
}

// StartSweeper closes idle sessions and forgets idle rate-limit buckets on
// a schedule. The returned func stops it.
func (s *Server) StartSweeper() (stop func()) {
	every := s.sessions.idle / 4
	if every < 10*time.Second {
		every = 10 * time.Second
	}
	c := cron.New()
	_, err := c.AddFunc("@every "+every.String(), func() {
		closed, purged := s.sessions.Sweep()
		buckets := s.limiter.Sweep(s.sessions.idle)
		if closed+purged+buckets > 0 {
			s.logger.Printf("gateway.sweep closed=%d purged=%d buckets=%d open=%d", closed, purged, buckets, s.sessions.OpenCount())
		}
	})
	if err != nil {
		s.logger.Printf("gateway.sweep not scheduled: %v", err)
		return func() {}
	}
	c.Start()
	return func() { <-c.Stop().Done() }
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.opts.CORSOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.CORSOrigins
		cfg.AllowCredentials = true
	}
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "sessions": s.sessions.OpenCount()}
	for name, check := range s.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
