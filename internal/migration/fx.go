package migration

import (
	"github.com/flowlytix/subscription-server/internal/config"
	customerdomain "github.com/flowlytix/subscription-server/internal/customer/domain"
	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The SQL migrations target Postgres. Other dialects are used
		// for local runs and tests, where AutoMigrate is enough.
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(
				&customerdomain.Customer{},
				&subscriptiondomain.Subscription{},
				&subscriptiondomain.Device{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
