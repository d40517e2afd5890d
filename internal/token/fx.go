package token

import (
	"time"

	"github.com/flowlytix/subscription-server/internal/clock"
	"github.com/flowlytix/subscription-server/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Failing to load key material here aborts process startup, which is
// intentional: a licensing server without its signing keys must not
// serve traffic.
func provideKeyring(cfg config.Config, log *zap.Logger) (*Keyring, error) {
	keys, err := LoadOrGenerateKeyring(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err != nil {
		log.Error("failed to initialize signing keys", zap.Error(err))
		return nil, err
	}
	return keys, nil
}

func provideAuthority(keys *Keyring, clk clock.Clock, cfg config.Config, log *zap.Logger) *Authority {
	return NewAuthority(keys, clk, time.Duration(cfg.LicenseTokenTTLDays)*24*time.Hour, log)
}

func provideAccessTokens(clk clock.Clock, cfg config.Config, log *zap.Logger) (*AccessTokens, error) {
	return NewAccessTokens(cfg.AccessTokenSecret, clk, time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute, log)
}

var Module = fx.Module("token",
	fx.Provide(
		provideKeyring,
		provideAuthority,
		provideAccessTokens,
	),
)
