package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/flowlytix/subscription-server/internal/clock"
	"github.com/flowlytix/subscription-server/internal/config"
	"github.com/flowlytix/subscription-server/internal/licensekey"
	"github.com/flowlytix/subscription-server/internal/logger"
	"github.com/flowlytix/subscription-server/internal/observability/metrics"
	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	"github.com/flowlytix/subscription-server/internal/token"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LicenseService orchestrates activate/validate/deactivate. Each call
// is one unit of work: the subscription row is locked, the aggregate
// applies its rules, and all mutations commit together, so concurrent
// activations cannot overshoot the device limit.
type LicenseService struct {
	db  *gorm.DB
	log *zap.Logger

	cfg       config.Config
	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	authority *token.Authority
	metrics   *metrics.Metrics
}

type LicenseServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Cfg       config.Config
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Authority *token.Authority
	Metrics   *metrics.Metrics `optional:"true"`
}

func NewLicenseService(p LicenseServiceParam) subscriptiondomain.LicenseService {
	return &LicenseService{
		db:        p.DB,
		log:       p.Log.Named("license.service"),
		cfg:       p.Cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		authority: p.Authority,
		metrics:   p.Metrics,
	}
}

func (s *LicenseService) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (*subscriptiondomain.ActivateResponse, error) {
	key := strings.TrimSpace(req.LicenseKey)
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, subscriptiondomain.ErrDeviceNotFound
	}
	if !licensekey.ValidateFormat(key, s.cfg.LicenseKeyPrefix) {
		s.log.Warn("malformed license key", zap.String("license_key", logger.MaskLicenseKey(key)))
		return nil, subscriptiondomain.ErrLicenseKeyInvalid
	}

	var (
		subscription *subscriptiondomain.Subscription
		check        subscriptiondomain.ActivationCheck
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByLicenseKeyForUpdate(ctx, tx, key)
		if err != nil {
			return err
		}
		if item == nil {
			s.log.Warn("unknown license key", zap.String("license_key", logger.MaskLicenseKey(key)))
			return subscriptiondomain.ErrLicenseKeyInvalid
		}

		now := s.clock.Now()
		check, err = item.ValidateForActivation(deviceID, now)
		if err != nil {
			return err
		}

		switch check.Action {
		case subscriptiondomain.ActionCanActivate:
			device := subscriptiondomain.Device{
				ID:        s.genID.Generate(),
				DeviceID:  deviceID,
				IsActive:  true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			device.ApplyInfo(req.DeviceInfo, now)
			device.Touch(now)

			added, err := item.AddDevice(device, now)
			if err != nil {
				return err
			}
			if err := s.repo.InsertDevice(ctx, tx, added); err != nil {
				return err
			}
			check.Device = added

		case subscriptiondomain.ActionReactivated:
			check.Device.ApplyInfo(req.DeviceInfo, now)
			check.Device.Touch(now)
			if err := s.repo.UpdateDevice(ctx, tx, check.Device); err != nil {
				return err
			}
		}

		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}

		subscription = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	signed, err := s.authority.Issue(s.claimsFor(subscription, deviceID))
	if err != nil {
		return nil, err
	}

	s.log.Info("license activated",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("device_id", deviceID),
		zap.String("action", string(check.Action)),
	)
	s.metrics.RecordActivation(ctx, string(check.Action))
	s.metrics.RecordTokenIssued(ctx, string(subscription.Tier))

	return &subscriptiondomain.ActivateResponse{
		Token:     signed,
		Action:    check.Action,
		Device:    toDeviceResponse(check.Device),
		ExpiresAt: subscription.ExpiresAt,
		Features:  subscription.Features(),
	}, nil
}

func (s *LicenseService) Validate(ctx context.Context, req subscriptiondomain.ValidateRequest) (*subscriptiondomain.ValidateResponse, error) {
	key := strings.TrimSpace(req.LicenseKey)
	deviceID := strings.TrimSpace(req.DeviceID)

	// Validation is expected to fail often; an unknown or malformed key
	// is a negative result, not an error.
	if !licensekey.ValidateFormat(key, s.cfg.LicenseKeyPrefix) {
		s.metrics.RecordValidation(ctx, false, subscriptiondomain.ErrLicenseKeyInvalid.Error())
		return &subscriptiondomain.ValidateResponse{
			Valid:  false,
			Reason: subscriptiondomain.ErrLicenseKeyInvalid.Error(),
		}, nil
	}

	updateLastSeen := req.UpdateLastSeen == nil || *req.UpdateLastSeen

	var resp *subscriptiondomain.ValidateResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByLicenseKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if item == nil {
			resp = &subscriptiondomain.ValidateResponse{
				Valid:  false,
				Reason: subscriptiondomain.ErrLicenseKeyInvalid.Error(),
			}
			return nil
		}

		now := s.clock.Now()

		device := item.Device(deviceID)
		if device == nil || !device.IsActive {
			resp = &subscriptiondomain.ValidateResponse{
				Valid:  false,
				Reason: subscriptiondomain.ReasonDeviceNotActivated,
			}
			return nil
		}

		if !item.IsUsableNow(now) {
			reason := subscriptiondomain.ReasonInactive
			if item.IsExpired(now) {
				reason = subscriptiondomain.ReasonExpired
			}
			resp = &subscriptiondomain.ValidateResponse{
				Valid:     false,
				Reason:    reason,
				ExpiresAt: item.ExpiresAt,
			}
			return nil
		}

		if updateLastSeen {
			device.Touch(now)
			if err := s.repo.UpdateDevice(ctx, tx, device); err != nil {
				return err
			}
		}

		resp = &subscriptiondomain.ValidateResponse{
			Valid:           true,
			InGracePeriod:   item.IsInGracePeriod(now),
			DaysUntilExpiry: item.DaysUntilExpiry(now),
			Features:        item.Features(),
			ExpiresAt:       item.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordValidation(ctx, resp.Valid, resp.Reason)
	return resp, nil
}

func (s *LicenseService) Deactivate(ctx context.Context, licenseKey, deviceID string) (bool, error) {
	key := strings.TrimSpace(licenseKey)
	if !licensekey.ValidateFormat(key, s.cfg.LicenseKeyPrefix) {
		return false, subscriptiondomain.ErrLicenseKeyInvalid
	}

	removed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByLicenseKeyForUpdate(ctx, tx, key)
		if err != nil {
			return err
		}
		if item == nil {
			return subscriptiondomain.ErrLicenseKeyInvalid
		}

		now := s.clock.Now()
		removed = item.RemoveDevice(strings.TrimSpace(deviceID), now)
		if !removed {
			return nil
		}

		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		return s.repo.UpdateDevices(ctx, tx, item.Devices)
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.log.Info("device deactivated",
			zap.String("license_key", logger.MaskLicenseKey(key)),
			zap.String("device_id", deviceID),
		)
	}
	return removed, nil
}

func (s *LicenseService) claimsFor(subscription *subscriptiondomain.Subscription, deviceID string) token.LicenseClaims {
	return token.LicenseClaims{
		SubscriptionID:  subscription.ID.String(),
		CustomerID:      subscription.CustomerID.String(),
		Tier:            string(subscription.Tier),
		Features:        map[string]any(subscription.Features()),
		DeviceID:        deviceID,
		ExpiresAt:       subscription.ExpiresAt,
		GracePeriodDays: subscription.GracePeriodDays,
	}
}

func toDeviceResponse(d *subscriptiondomain.Device) *subscriptiondomain.DeviceResponse {
	if d == nil {
		return nil
	}
	return &subscriptiondomain.DeviceResponse{
		ID:         d.ID.String(),
		DeviceID:   d.DeviceID,
		DeviceName: d.DeviceName,
		DeviceType: d.DeviceType,
		IsActive:   d.IsActive,
		LastSeenAt: d.LastSeenAt,
	}
}
