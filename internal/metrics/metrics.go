// Package metrics keeps daily operational counters in the shared kv
// store so any process (and the health endpoint) can read them.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"warship-tracker/internal/domain"
	"warship-tracker/internal/kv"
)

const retention = 8 * 24 * time.Hour

type Recorder struct {
	store  kv.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewRecorder(store kv.Store, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

func (r *Recorder) day() string {
	return r.now().UTC().Format("2006-01-02")
}

func (r *Recorder) incr(ctx context.Context, key string, n int64) {
	if _, err := r.store.IncrBy(ctx, key, n); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to increment metric")
		return
	}
	if err := r.store.Expire(ctx, key, retention); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to set metric TTL")
	}
}

// JobAttempted counts every consumed refresh job.
func (r *Recorder) JobAttempted(ctx context.Context) {
	r.incr(ctx, fmt.Sprintf("metrics:refresh:%s:attempted", r.day()), 1)
}

// JobFailed counts jobs that ended in a failure status.
func (r *Recorder) JobFailed(ctx context.Context) {
	r.incr(ctx, fmt.Sprintf("metrics:refresh:%s:failed", r.day()), 1)
}

// JobsDispatched counts jobs the scheduler enqueued.
func (r *Recorder) JobsDispatched(ctx context.Context, n int64) {
	if n == 0 {
		return
	}
	r.incr(ctx, fmt.Sprintf("metrics:refresh:%s:dispatched", r.day()), n)
}

// HTTPRequests counts outbound stats-API calls per region.
func (r *Recorder) HTTPRequests(ctx context.Context, region domain.Region, n int64) {
	r.incr(ctx, fmt.Sprintf("metrics:http:%s:%s_total", r.day(), region.Name()), n)
}

// HTTPErrors counts failed outbound calls per region.
func (r *Recorder) HTTPErrors(ctx context.Context, region domain.Region, n int64) {
	if n == 0 {
		return
	}
	r.incr(ctx, fmt.Sprintf("metrics:http:%s:%s_error", r.day(), region.Name()), n)
}

// Read returns today's counter value, 0 when absent.
func (r *Recorder) Read(ctx context.Context, name string) int64 {
	key := fmt.Sprintf("metrics:%s", name)
	v, err := r.store.Get(ctx, key)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Snapshot collects the day's refresh counters for health reporting.
func (r *Recorder) Snapshot(ctx context.Context) map[string]int64 {
	day := r.day()
	out := make(map[string]int64)
	for _, name := range []string{"attempted", "failed", "dispatched"} {
		out[name] = r.Read(ctx, fmt.Sprintf("refresh:%s:%s", day, name))
	}
	return out
}
