// Package queue runs background jobs with retries and exponential backoff.
// Delivery is at-least-once, so handlers must tolerate replays.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bonus_system/internal/metrics"
	"bonus_system/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
	maxBackoff      = time.Hour
)

var ErrClosed = errors.New("queue closed")

type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Type, err))
	}
	return nil
}

type Handler func(ctx context.Context, job *Job) error

type Options struct {
	Attempts int
	Backoff  time.Duration
	Delay    time.Duration
}

type Option func(*Options)

func WithAttempts(n int) Option {
	return func(o *Options) { o.Attempts = n }
}

func WithBackoff(d time.Duration) Option {
	return func(o *Options) { o.Backoff = d }
}

func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type Queue interface {
	Register(jobType string, h Handler)
	Enqueue(ctx context.Context, jobType string, payload any, opts ...Option) (string, error)
	Start(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

type Config struct {
	Workers      int           `mapstructure:"workers"`
	Attempts     int           `mapstructure:"attempts"`
	Backoff      time.Duration `mapstructure:"backoff"`
	BufferSize   int           `mapstructure:"bufferSize"` // initial capacity of the in-process pending list
	Prefix       string        `mapstructure:"prefix"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
	HeartbeatTTL time.Duration `mapstructure:"heartbeatTTL"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.Prefix == "" {
		c.Prefix = "bonus:queue"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 30 * time.Second
	}
	return c
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// BackoffDelay is base * 2^(attempt-1), capped at one hour.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func newJob(cfg Config, jobType string, payload any, opts []Option) (*Job, Options, error) {
	o := Options{Attempts: cfg.Attempts, Backoff: cfg.Backoff}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Attempts <= 0 {
		o.Attempts = 1
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, o, fmt.Errorf("encode %s payload: %w", jobType, err)
	}

	return &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: o.Attempts,
		Backoff:     o.Backoff,
		CreatedAt:   time.Now().UTC(),
	}, o, nil
}

// dispatcher routes jobs to handlers and decides about retries.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func (d *dispatcher) Register(jobType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[string]Handler)
	}
	d.handlers[jobType] = h
}

func (d *dispatcher) handler(jobType string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[jobType]
	return h, ok
}

// process runs one attempt. It reports whether the job should be retried and after what delay.
func (d *dispatcher) process(ctx context.Context, job *Job) (retry bool, delay time.Duration, failed bool) {
	log := logger.Logger().With(zap.String("job_id", job.ID), zap.String("job_type", job.Type))

	h, ok := d.handler(job.Type)
	if !ok {
		log.Error("no handler registered for job")
		metrics.RecordJob(job.Type, "failed", 0)
		return false, 0, true
	}

	job.Attempt++
	start := time.Now()
	err := safeCall(ctx, h, job)
	elapsed := time.Since(start)

	if err == nil {
		metrics.RecordJob(job.Type, "completed", elapsed)
		log.Debug("job completed", zap.Int("attempt", job.Attempt), zap.Duration("took", elapsed))
		return false, 0, false
	}

	job.LastError = err.Error()

	if IsPermanent(err) || job.Attempt >= job.MaxAttempts {
		metrics.RecordJob(job.Type, "failed", elapsed)
		log.Error("job failed",
			zap.Int("attempt", job.Attempt),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Bool("permanent", IsPermanent(err)),
			zap.Error(err))
		return false, 0, true
	}

	delay = BackoffDelay(job.Backoff, job.Attempt)
	metrics.RecordJob(job.Type, "retried", elapsed)
	log.Warn("job attempt failed, retrying",
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
	return true, delay, false
}

func safeCall(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}
