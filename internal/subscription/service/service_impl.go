package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowlytix/subscription-server/internal/clock"
	"github.com/flowlytix/subscription-server/internal/config"
	"github.com/flowlytix/subscription-server/internal/licensekey"
	"github.com/flowlytix/subscription-server/internal/logger"
	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	cfg   config.Config
	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		cfg:   p.Cfg,
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.SubscriptionResponse, error) {
	customerID, err := parseID(req.CustomerID, subscriptiondomain.ErrCustomerNotFound)
	if err != nil {
		return nil, err
	}

	if !subscriptiondomain.ValidTier(req.Tier) {
		return nil, subscriptiondomain.ErrInvalidTier
	}
	if req.DurationDays <= 0 {
		return nil, subscriptiondomain.ErrInvalidDuration
	}

	maxDevices := req.MaxDevices
	if maxDevices == 0 {
		maxDevices = s.cfg.MaxDevicesDefault
	}
	if maxDevices < 1 {
		return nil, subscriptiondomain.ErrInvalidMaxDevices
	}

	hasCustomer, err := s.hasCustomer(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	if !hasCustomer {
		return nil, subscriptiondomain.ErrCustomerNotFound
	}

	key, err := licensekey.Generate(s.cfg.LicenseKeyPrefix)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expiresAt := now.Add(time.Duration(req.DurationDays) * 24 * time.Hour)
	currency := strings.ToUpper(strings.TrimSpace(req.PriceCurrency))
	if currency == "" {
		currency = "USD"
	}

	subscription := subscriptiondomain.Subscription{
		ID:              s.genID.Generate(),
		CustomerID:      customerID,
		LicenseKey:      key,
		Tier:            req.Tier,
		Status:          subscriptiondomain.StatusActive,
		MaxDevices:      maxDevices,
		StartsAt:        now,
		ExpiresAt:       &expiresAt,
		GracePeriodDays: s.cfg.DefaultGracePeriodDays,
		PriceAmount:     req.PriceAmount,
		PriceCurrency:   currency,
		AutoRenew:       req.AutoRenew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Features != nil {
		subscription.FeatureOverrides = datatypes.JSONMap(req.Features)
	}
	if req.Metadata != nil {
		subscription.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, &subscription)
	}); err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("tier", string(req.Tier)),
		zap.String("license_key", logger.MaskLicenseKey(key)),
	)

	return toResponse(&subscription), nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*subscriptiondomain.SubscriptionResponse, error) {
	subscriptionID, err := parseID(id, subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	return toResponse(item), nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]subscriptiondomain.SubscriptionResponse, error) {
	id, err := parseID(customerID, subscriptiondomain.ErrCustomerNotFound)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.FindByCustomerID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	resp := make([]subscriptiondomain.SubscriptionResponse, 0, len(items))
	for i := range items {
		resp = append(resp, *toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Suspend(ctx context.Context, id string) (*subscriptiondomain.SubscriptionResponse, error) {
	return s.mutate(ctx, id, "subscription suspended", func(sub *subscriptiondomain.Subscription, now time.Time) error {
		sub.Suspend(now)
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, id string) (*subscriptiondomain.SubscriptionResponse, error) {
	return s.mutate(ctx, id, "subscription cancelled", func(sub *subscriptiondomain.Subscription, now time.Time) error {
		sub.Cancel(now)
		return nil
	})
}

// Resume reactivates suspended subscriptions and, for compatibility
// with existing billing behavior, cancelled ones as well.
func (s *Service) Resume(ctx context.Context, id string) (*subscriptiondomain.SubscriptionResponse, error) {
	return s.mutate(ctx, id, "subscription resumed", func(sub *subscriptiondomain.Subscription, now time.Time) error {
		if sub.Status != subscriptiondomain.StatusSuspended && sub.Status != subscriptiondomain.StatusCancelled {
			return subscriptiondomain.ErrInvalidTransition
		}
		sub.Resume(now)
		return nil
	})
}

func (s *Service) ExtendExpiry(ctx context.Context, id string, days int) (*subscriptiondomain.SubscriptionResponse, error) {
	if days <= 0 {
		return nil, subscriptiondomain.ErrInvalidDuration
	}
	return s.mutate(ctx, id, "subscription extended", func(sub *subscriptiondomain.Subscription, now time.Time) error {
		sub.ExtendExpiry(days, now)
		return nil
	})
}

func (s *Service) UpdateTier(ctx context.Context, req subscriptiondomain.UpdateTierRequest) (*subscriptiondomain.SubscriptionResponse, error) {
	if !subscriptiondomain.ValidTier(req.Tier) {
		return nil, subscriptiondomain.ErrInvalidTier
	}
	return s.mutate(ctx, req.SubscriptionID, "subscription tier updated", func(sub *subscriptiondomain.Subscription, now time.Time) error {
		sub.UpdateTier(req.Tier, req.Features, now)
		return nil
	})
}

func (s *Service) Analytics(ctx context.Context, id string) (*subscriptiondomain.AnalyticsResponse, error) {
	subscriptionID, err := parseID(id, subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	active := item.ActiveDeviceCount()
	total := len(item.Devices)
	utilization := 0.0
	if item.MaxDevices > 0 {
		utilization = float64(active) / float64(item.MaxDevices) * 100
	}

	return &subscriptiondomain.AnalyticsResponse{
		SubscriptionID:  item.ID.String(),
		Status:          item.Status,
		Tier:            item.Tier,
		IsUsable:        item.IsUsableNow(now),
		IsExpired:       item.IsExpired(now),
		IsInGracePeriod: item.IsInGracePeriod(now),
		DaysUntilExpiry: item.DaysUntilExpiry(now),
		Devices: subscriptiondomain.DeviceAnalytics{
			Total:              total,
			Active:             active,
			Inactive:           total - active,
			MaxAllowed:         item.MaxDevices,
			UtilizationPercent: utilization,
		},
		Features:  item.Features(),
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}, nil
}

func (s *Service) ListExpiring(ctx context.Context, withinDays int) ([]subscriptiondomain.ExpiringSubscription, error) {
	if withinDays <= 0 {
		withinDays = 7
	}

	now := s.clock.Now()
	to := now.Add(time.Duration(withinDays) * 24 * time.Hour)

	items, err := s.repo.FindExpiringBefore(ctx, s.db, now, to)
	if err != nil {
		return nil, err
	}

	resp := make([]subscriptiondomain.ExpiringSubscription, 0, len(items))
	for i := range items {
		item := &items[i]
		resp = append(resp, subscriptiondomain.ExpiringSubscription{
			SubscriptionID:  item.ID.String(),
			CustomerID:      item.CustomerID.String(),
			Tier:            item.Tier,
			ExpiresAt:       item.ExpiresAt,
			DaysUntilExpiry: item.DaysUntilExpiry(now),
			LicenseKey:      logger.MaskLicenseKey(item.LicenseKey),
		})
	}
	return resp, nil
}

// mutate loads the aggregate under a row lock, applies fn, and persists
// the subscription together with its devices in one transaction.
func (s *Service) mutate(ctx context.Context, id string, event string, fn func(*subscriptiondomain.Subscription, time.Time) error) (*subscriptiondomain.SubscriptionResponse, error) {
	subscriptionID, err := parseID(id, subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		return nil, err
	}

	var result *subscriptiondomain.SubscriptionResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if item == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		now := s.clock.Now()
		if err := fn(item, now); err != nil {
			return err
		}

		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		if err := s.repo.UpdateDevices(ctx, tx, item.Devices); err != nil {
			return err
		}

		result = toResponse(item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(event, zap.String("subscription_id", subscriptionID.String()))
	return result, nil
}

func (s *Service) hasCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM customers WHERE id = ?`,
		customerID,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func toResponse(s *subscriptiondomain.Subscription) *subscriptiondomain.SubscriptionResponse {
	var price *string
	if m, ok := s.Price(); ok {
		formatted := m.String()
		price = &formatted
	}
	return &subscriptiondomain.SubscriptionResponse{
		ID:              s.ID.String(),
		CustomerID:      s.CustomerID.String(),
		LicenseKey:      s.LicenseKey,
		Tier:            s.Tier,
		Status:          s.Status,
		Features:        s.Features(),
		MaxDevices:      s.MaxDevices,
		StartsAt:        s.StartsAt,
		ExpiresAt:       s.ExpiresAt,
		GracePeriodDays: s.GracePeriodDays,
		Price:           price,
		AutoRenew:       s.AutoRenew,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
