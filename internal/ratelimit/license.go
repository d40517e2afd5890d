package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowlytix/subscription-server/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyLicenseKey = "license:key:%s"
	keyClientIP   = "license:ip:%s"
	keySweepLock  = "license:sweep:lock"
)

// LicenseLimiter throttles license activation and validation. A nil
// limiter means rate limiting is off and every request is allowed.
type LicenseLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	keyRate  float64
	keyBurst int
	ipRate   float64
	ipBurst  int
	lockTTL  time.Duration
}

func NewLicenseLimiter(cfg config.Config) (*LicenseLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if cfg.LicenseKeyRate <= 0 || cfg.LicenseKeyBurst <= 0 {
		return nil, errors.New("license key rate limit must be positive")
	}
	if cfg.ClientIPRate <= 0 || cfg.ClientIPBurst <= 0 {
		return nil, errors.New("client ip rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &LicenseLimiter{
		enabled:  true,
		bucket:   NewTokenBucket(client),
		locker:   NewLocker(client),
		keyRate:  cfg.LicenseKeyRate,
		keyBurst: cfg.LicenseKeyBurst,
		ipRate:   cfg.ClientIPRate,
		ipBurst:  cfg.ClientIPBurst,
		lockTTL:  time.Duration(cfg.SweepLockTTLSeconds) * time.Second,
	}, nil
}

func (l *LicenseLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *LicenseLimiter) AllowLicenseKey(ctx context.Context, licenseKey string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyLicenseKey, strings.TrimSpace(licenseKey)), l.keyRate, l.keyBurst)
}

func (l *LicenseLimiter) AllowClientIP(ctx context.Context, ip string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyClientIP, strings.TrimSpace(ip)), l.ipRate, l.ipBurst)
}

// TryLockSweep elects one replica to run the expiry sweep.
func (l *LicenseLimiter) TryLockSweep(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keySweepLock, l.lockTTL)
}

func (l *LicenseLimiter) ReleaseSweep(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keySweepLock, token)
}
