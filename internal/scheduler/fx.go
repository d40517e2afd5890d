package scheduler

import (
	"context"
	"time"

	"github.com/flowlytix/subscription-server/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Start),
)

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: time.Duration(cfg.ExpirySweepIntervalMinutes) * time.Minute,
	}
}

func Start(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if cfg.ExpirySweepIntervalMinutes <= 0 {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
