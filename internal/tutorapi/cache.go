package tutorapi

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tutorflow/internal/metrics"
	"tutorflow/internal/model"
)

// Catalog is the reference-data part of the backend.
type Catalog interface {
	FetchCourses(ctx context.Context) ([]model.Course, error)
	FetchTutorsByCourse(ctx context.Context, courseID string) ([]model.Tutor, error)
	FetchTutorSchedules(ctx context.Context, tutorID int) ([]model.Schedule, error)
}

const coursesKey = "all"

// CachedCatalog keeps recently fetched reference data in size-bounded LRU
// caches whose entries expire after ttl. Errors are never cached.
type CachedCatalog struct {
	next      Catalog
	courses   *expirable.LRU[string, []model.Course]
	tutors    *expirable.LRU[string, []model.Tutor]
	schedules *expirable.LRU[int, []model.Schedule]
}

// NewCachedCatalog wraps next.
func NewCachedCatalog(next Catalog, size int, ttl time.Duration) *CachedCatalog {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedCatalog{
		next:      next,
		courses:   expirable.NewLRU[string, []model.Course](1, nil, ttl),
		tutors:    expirable.NewLRU[string, []model.Tutor](size, nil, ttl),
		schedules: expirable.NewLRU[int, []model.Schedule](size, nil, ttl),
	}
}

func (c *CachedCatalog) FetchCourses(ctx context.Context) ([]model.Course, error) {
	if v, ok := c.courses.Get(coursesKey); ok {
		metrics.CatalogCache.WithLabelValues("courses", "hit").Inc()
		return append([]model.Course(nil), v...), nil
	}
	metrics.CatalogCache.WithLabelValues("courses", "miss").Inc()
	v, err := c.next.FetchCourses(ctx)
	if err != nil {
		return nil, err
	}
	c.courses.Add(coursesKey, v)
	return append([]model.Course(nil), v...), nil
}

func (c *CachedCatalog) FetchTutorsByCourse(ctx context.Context, courseID string) ([]model.Tutor, error) {
	if v, ok := c.tutors.Get(courseID); ok {
		metrics.CatalogCache.WithLabelValues("tutors", "hit").Inc()
		return append([]model.Tutor(nil), v...), nil
	}
	metrics.CatalogCache.WithLabelValues("tutors", "miss").Inc()
	v, err := c.next.FetchTutorsByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	c.tutors.Add(courseID, v)
	return append([]model.Tutor(nil), v...), nil
}

func (c *CachedCatalog) FetchTutorSchedules(ctx context.Context, tutorID int) ([]model.Schedule, error) {
	if v, ok := c.schedules.Get(tutorID); ok {
		metrics.CatalogCache.WithLabelValues("schedules", "hit").Inc()
		return append([]model.Schedule(nil), v...), nil
	}
	metrics.CatalogCache.WithLabelValues("schedules", "miss").Inc()
	v, err := c.next.FetchTutorSchedules(ctx, tutorID)
	if err != nil {
		return nil, err
	}
	c.schedules.Add(tutorID, v)
	return append([]model.Schedule(nil), v...), nil
}

// InvalidateSchedules drops a tutor's cached schedule. The gateway calls it
// after a confirmed booking, which changes the tutor's availability.
func (c *CachedCatalog) InvalidateSchedules(tutorID int) {
	c.schedules.Remove(tutorID)
}
