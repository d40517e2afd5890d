package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/flowlytix/subscription-server/internal/clock"
	"github.com/flowlytix/subscription-server/internal/observability/metrics"
	"github.com/flowlytix/subscription-server/internal/ratelimit"
	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler misconfigured")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Limiter *ratelimit.LicenseLimiter `optional:"true"`
	Metrics *metrics.Metrics          `optional:"true"`
	Config  Config                    `optional:"true"`
}

// Scheduler runs the expiry sweep: it finds active subscriptions whose
// grace window has ended and caches the expired status so listings and
// analytics stay cheap. Validation derives expiry from timestamps and
// never depends on the sweep having run.
type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	limiter *ratelimit.LicenseLimiter
	metrics *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "expiry_sweep")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		repo:    p.Repo,
		limiter: p.Limiter,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep. With rate limiting enabled the
// Redis lock elects one replica; without it every replica sweeps,
// which is safe because MarkExpired is idempotent.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	token, acquired, err := s.limiter.TryLockSweep(ctx)
	if err != nil {
		s.log.Warn("sweep lock unavailable, proceeding", zap.Error(err))
	} else if !acquired {
		return nil
	}
	if token != "" {
		defer func() {
			if releaseErr := s.limiter.ReleaseSweep(ctx, token); releaseErr != nil {
				s.log.Warn("sweep lock release failed", zap.Error(releaseErr))
			}
		}()
	}

	swept, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		s.log.Info("expiry sweep complete", zap.Int("expired", swept))
	}
	s.metrics.RecordExpirySweep(ctx, swept)
	return nil
}

// Sweep marks active subscriptions past their grace window as expired
// and returns how many rows changed.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()

	// Grace length varies per row, so candidates are selected on the
	// raw expiry and the grace window is applied in memory.
	candidates, err := s.repo.FindExpiredActive(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range candidates {
		item := candidates[i]
		if item.IsInGracePeriod(now) {
			continue
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, err := s.repo.FindByIDForUpdate(ctx, tx, item.ID)
			if err != nil {
				return err
			}
			// Re-check under lock; an admin may have extended it.
			if locked == nil || locked.Status != subscriptiondomain.StatusActive || !locked.IsExpired(now) || locked.IsInGracePeriod(now) {
				return nil
			}
			locked.MarkExpired(now)
			if err := s.repo.Update(ctx, tx, locked); err != nil {
				return err
			}
			swept++
			return nil
		})
		if err != nil {
			return swept, err
		}
	}
	return swept, nil
}
