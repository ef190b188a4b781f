package transport

import (
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics"
)

// instrumentingMiddleware wraps Transport and records request metrics. The
// duration covers Submit to callback, so it measures radio latency.
type instrumentingMiddleware struct {
	reqCount    metrics.Counter
	reqDuration metrics.Histogram
	next        Transport
}

// Submit ...
func (s *instrumentingMiddleware) Submit(req Request, cb Callback) (err error) {
	startTime := time.Now()
	err = s.next.Submit(req, func(res Result) {
		labels := []string{
			"method", string(req.Op),
			"error", strconv.FormatBool(res.Status != StatusSuccess),
		}
		s.reqCount.With(labels...).Add(1)
		s.reqDuration.With(labels...).Observe(time.Since(startTime).Seconds())
		cb(res)
	})
	if err != nil {
		labels := []string{
			"method", string(req.Op),
			"error", "true",
		}
		s.reqCount.With(labels...).Add(1)
		s.reqDuration.With(labels...).Observe(time.Since(startTime).Seconds())
	}
	return err
}

// Interrupt ...
func (s *instrumentingMiddleware) Interrupt(req Request) (err error) {
	defer func(startTime time.Time) {
		labels := []string{
			"method", "interrupt_" + string(req.Op),
			"error", strconv.FormatBool(err != nil),
		}
		s.reqCount.With(labels...).Add(1)
		s.reqDuration.With(labels...).Observe(time.Since(startTime).Seconds())
	}(time.Now())
	return s.next.Interrupt(req)
}

// NewInstrumentingMiddleware ...
func NewInstrumentingMiddleware(
	reqCount metrics.Counter,
	reqDuration metrics.Histogram,
	next Transport,
) Transport {
	return &instrumentingMiddleware{
		reqCount:    reqCount,
		reqDuration: reqDuration,
		next:        next,
	}
}
