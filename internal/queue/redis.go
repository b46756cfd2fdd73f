package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"bonus_system/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const popTimeout = time.Second

// RedisQueue stores jobs in Redis: a ready list, a sorted set of delayed jobs
// scored by their due time in unix milliseconds, and one in-flight list per
// consumer. A consumer keeps a heartbeat key alive while it runs; the
// in-flight list of a consumer whose heartbeat expired is moved back to ready.
type RedisQueue struct {
	dispatcher
	cfg    Config
	client *redis.Client
	id     string
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	active atomic.Int64
}

func NewRedisQueue(client *redis.Client, cfg Config) *RedisQueue {
	return &RedisQueue{
		cfg:    cfg.withDefaults(),
		client: client,
		id:     uuid.NewString(),
		quit:   make(chan struct{}),
	}
}

func (q *RedisQueue) readyKey() string     { return q.cfg.Prefix + ":ready" }
func (q *RedisQueue) delayedKey() string   { return q.cfg.Prefix + ":delayed" }
func (q *RedisQueue) statsKey() string     { return q.cfg.Prefix + ":stats" }
func (q *RedisQueue) consumersKey() string { return q.cfg.Prefix + ":consumers" }

func (q *RedisQueue) processingKey() string { return q.processingKeyOf(q.id) }

func (q *RedisQueue) processingKeyOf(consumer string) string {
	return q.cfg.Prefix + ":processing:" + consumer
}

func (q *RedisQueue) heartbeatKeyOf(consumer string) string {
	return q.cfg.Prefix + ":consumer:" + consumer
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, payload any, opts ...Option) (string, error) {
	select {
	case <-q.quit:
		return "", ErrClosed
	default:
	}

	job, o, err := newJob(q.cfg, jobType, payload, opts)
	if err != nil {
		return "", err
	}

	if o.Delay > 0 {
		err = q.delay(ctx, job, o.Delay)
	} else {
		err = q.ready(ctx, job)
	}
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *RedisQueue) ready(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.readyKey(), raw).Err()
}

func (q *RedisQueue) delay(ctx context.Context, job *Job, d time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	due := time.Now().Add(d).UnixMilli()
	return q.client.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: float64(due), Member: string(raw)}).Err()
}

// Start registers the consumer, requeues the jobs of consumers that stopped
// beating, then launches the heartbeat, the promoter and the workers.
func (q *RedisQueue) Start(ctx context.Context) error {
	if err := q.beat(ctx); err != nil {
		return err
	}
	if err := q.client.SAdd(ctx, q.consumersKey(), q.id).Err(); err != nil {
		return err
	}
	if err := q.recoverAbandoned(ctx); err != nil {
		return err
	}

	q.wg.Add(2)
	go q.heartbeat(ctx)
	go q.promoter(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	logger.Logger().Info("redis queue started",
		zap.Int("workers", q.cfg.Workers),
		zap.String("prefix", q.cfg.Prefix),
		zap.String("consumer", q.id))
	return nil
}

func (q *RedisQueue) beat(ctx context.Context) error {
	return q.client.Set(ctx, q.heartbeatKeyOf(q.id), time.Now().UTC().Format(time.RFC3339), q.cfg.HeartbeatTTL).Err()
}

// heartbeat refreshes the consumer key and sweeps abandoned in-flight lists.
func (q *RedisQueue) heartbeat(ctx context.Context) {
	defer q.wg.Done()
	log := logger.Logger()
	ticker := time.NewTicker(q.cfg.HeartbeatTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.quit:
			return
		case <-ticker.C:
			if err := q.beat(ctx); err != nil && !q.stopped(ctx) {
				log.Error("failed to refresh queue heartbeat", zap.Error(err))
			}
			if err := q.recoverAbandoned(ctx); err != nil && !q.stopped(ctx) {
				log.Error("failed to recover abandoned jobs", zap.Error(err))
			}
		}
	}
}

// recoverAbandoned moves the in-flight jobs of every consumer without a live
// heartbeat back to the ready list and forgets the consumer.
func (q *RedisQueue) recoverAbandoned(ctx context.Context) error {
	consumers, err := q.client.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return err
	}

	for _, consumer := range consumers {
		if consumer == q.id {
			continue
		}
		alive, err := q.client.Exists(ctx, q.heartbeatKeyOf(consumer)).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}
		if err := q.requeue(ctx, consumer); err != nil {
			return err
		}
		if err := q.client.SRem(ctx, q.consumersKey(), consumer).Err(); err != nil {
			return err
		}
	}
	return nil
}

// requeue drains the in-flight list of consumer into the ready list.
func (q *RedisQueue) requeue(ctx context.Context, consumer string) error {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKeyOf(consumer), q.readyKey()).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return err
		}
		moved++
	}
	if moved > 0 {
		logger.Logger().Warn("requeued interrupted jobs",
			zap.String("consumer", consumer),
			zap.Int("count", moved))
	}
	return nil
}

func (q *RedisQueue) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-q.quit:
		return true
	default:
		return false
	}
}

func (q *RedisQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	log := logger.Logger()

	for !q.stopped(ctx) {
		raw, err := q.client.BRPopLPush(ctx, q.readyKey(), q.processingKey(), popTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if q.stopped(ctx) {
				return
			}
			log.Error("failed to pop job", zap.Error(err))
			q.sleep(ctx, q.cfg.PollInterval)
			continue
		}

		q.handle(ctx, raw)
	}
}

func (q *RedisQueue) handle(ctx context.Context, raw string) {
	log := logger.Logger()
	// Cleanup must survive cancellation of the worker context.
	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := q.client.LRem(bg, q.processingKey(), 1, raw).Err(); err != nil {
			log.Error("failed to ack job", zap.Error(err))
		}
	}()

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error("dropping malformed job", zap.Error(err))
		q.client.HIncrBy(bg, q.statsKey(), "failed", 1)
		return
	}

	q.active.Add(1)
	retry, delay, failed := q.process(ctx, &job)
	q.active.Add(-1)

	switch {
	case retry:
		if err := q.delay(bg, &job, delay); err != nil {
			log.Error("failed to schedule retry", zap.String("job_id", job.ID), zap.Error(err))
		}
	case failed:
		q.client.HIncrBy(bg, q.statsKey(), "failed", 1)
	default:
		q.client.HIncrBy(bg, q.statsKey(), "completed", 1)
	}
}

// promoter moves due delayed jobs to the ready list. ZREM decides which
// promoter wins when several processes share the queue.
func (q *RedisQueue) promoter(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.quit:
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && !q.stopped(ctx) {
				logger.Logger().Error("failed to promote delayed jobs", zap.Error(err))
			}
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-q.quit:
	case <-t.C:
	}
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.readyKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	counters := pipe.HGetAll(ctx, q.statsKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}

	s := Stats{
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Active:  q.active.Load(),
	}
	vals := counters.Val()
	s.Completed, _ = strconv.ParseInt(vals["completed"], 10, 64)
	s.Failed, _ = strconv.ParseInt(vals["failed"], 10, 64)
	return s, nil
}

// Close stops the workers and deregisters the consumer. Jobs still in flight
// are handed back to the ready list.
func (q *RedisQueue) Close() error {
	q.once.Do(func() { close(q.quit) })
	q.wg.Wait()

	ctx := context.Background()
	if err := q.requeue(ctx, q.id); err != nil {
		return err
	}
	if err := q.client.SRem(ctx, q.consumersKey(), q.id).Err(); err != nil {
		return err
	}
	return q.client.Del(ctx, q.heartbeatKeyOf(q.id)).Err()
}
