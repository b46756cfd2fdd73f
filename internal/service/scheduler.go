package service

import (
	"context"
	"time"

	"bonus_system/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultExpirySchedule = "@hourly"

type bonusExpirer interface {
	ExpireBonuses(ctx context.Context, now time.Time) (int, error)
}

// ExpiryScheduler runs the bonus expiry on a cron schedule.
type ExpiryScheduler struct {
	cron    *cron.Cron
	expirer bonusExpirer
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewExpiryScheduler(expirer bonusExpirer, spec string) (*ExpiryScheduler, error) {
	if spec == "" {
		spec = DefaultExpirySchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ExpiryScheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		expirer: expirer,
		ctx:     ctx,
		cancel:  cancel,
	}

	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *ExpiryScheduler) RunOnce() {
	log := logger.Logger()

	start := time.Now()
	n, err := s.expirer.ExpireBonuses(s.ctx, start.UTC())
	if err != nil {
		log.Error("bonus expiry run failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	log.Info("bonus expiry run finished",
		zap.Int("expired", n),
		zap.Duration("took", time.Since(start)))
}

func (s *ExpiryScheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running expiry to finish.
func (s *ExpiryScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
}
