package journal

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics"

	"bleq/internal/models"
)

// instrumentingMiddleware wraps Repository and enables request metrics
type instrumentingMiddleware struct {
	reqCount    metrics.Counter
	reqDuration metrics.Histogram
	svc         Repository
}

// RecordEvents ...
func (s *instrumentingMiddleware) RecordEvents(ctx context.Context, events ...models.Event) (err error) {
	defer func(startTime time.Time) {
		labels := []string{
			"method", "RecordEvents",
			"error", strconv.FormatBool(err != nil),
		}
		s.reqCount.With(labels...).Add(1)
		s.reqDuration.With(labels...).Observe(time.Since(startTime).Seconds())
	}(time.Now())
	return s.svc.RecordEvents(ctx, events...)
}

// Recent ...
func (s *instrumentingMiddleware) Recent(ctx context.Context, limit int) (events []models.Event, err error) {
	defer func(startTime time.Time) {
		labels := []string{
			"method", "Recent",
			"error", strconv.FormatBool(err != nil),
		}
		s.reqCount.With(labels...).Add(1)
		s.reqDuration.With(labels...).Observe(time.Since(startTime).Seconds())
	}(time.Now())
	return s.svc.Recent(ctx, limit)
}

// DeleteOlderThan ...
func (s *instrumentingMiddleware) DeleteOlderThan(ctx context.Context, olderThan time.Time) (count int64, err error) {
	defer func(startTime time.Time) {
		labels := []string{
			"method", "DeleteOlderThan",
			"error", strconv.FormatBool(err != nil),
		}
		s.reqCount.With(labels...).Add(1)
		s.reqDuration.With(labels...).Observe(time.Since(startTime).Seconds())
	}(time.Now())
	return s.svc.DeleteOlderThan(ctx, olderThan)
}

// NewInstrumentingMiddleware ...
func NewInstrumentingMiddleware(
	reqCount metrics.Counter,
	reqDuration metrics.Histogram,
	svc Repository,
) Repository {
	return &instrumentingMiddleware{
		reqCount:    reqCount,
		reqDuration: reqDuration,
		svc:         svc,
	}
}
