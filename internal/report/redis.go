package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisRecorder keeps per-job outcome counters and the last run summary in Redis
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisRecorder
type RedisOption func(*RedisRecorder)

func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) { r.prefix = strings.Trim(prefix, ":") }
}

// WithTTL bounds daily buckets and the last-run key; totals never expire
func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = d }
}

// NewRedisRecorder creates a recorder on rdb
func NewRedisRecorder(rdb *redis.Client, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: "boarding:runs",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRecorder) Record(ctx context.Context, run *model.JobRun) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := run.StartedAt
	if at.IsZero() {
		at = time.Now()
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	field := string(run.Outcome)
	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.totalKey(run.Job), field, 1)

	dayKey := r.dayKey(run.Job, at)
	pipe.HIncrBy(ctx, dayKey, field, 1)
	for name, n := range run.Counters {
		pipe.HIncrBy(ctx, dayKey, "counter:"+name, int64(n))
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, dayKey, r.ttl)
	}
	pipe.Set(ctx, r.lastKey(run.Job), payload, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record run in redis: %w", err)
	}
	return nil
}

// Totals returns the cumulative outcome counts for job
func (r *RedisRecorder) Totals(ctx context.Context, job string) (map[string]int64, error) {
	raw, err := r.rdb.HGetAll(ctx, r.totalKey(job)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run totals: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Last returns the most recent run summary for job, or nil if none is cached
func (r *RedisRecorder) Last(ctx context.Context, job string) (*model.JobRun, error) {
	raw, err := r.rdb.Get(ctx, r.lastKey(job)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	var run model.JobRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("failed to decode last run: %w", err)
	}
	return &run, nil
}

func (r *RedisRecorder) totalKey(job string) string {
	return r.prefix + ":" + job + ":total"
}

func (r *RedisRecorder) dayKey(job string, at time.Time) string {
	return fmt.Sprintf("%s:%s:day:%s", r.prefix, job, at.UTC().Format("20060102"))
}

func (r *RedisRecorder) lastKey(job string) string {
	return r.prefix + ":" + job + ":last"
}
