package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).
		Omit("Devices").
		Save(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Preload("Devices").
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	tx := db.WithContext(ctx)
	if tx.Dialector.Name() != "sqlite" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var item subscriptiondomain.Subscription
	err := tx.
		Preload("Devices").
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByLicenseKey(ctx context.Context, db *gorm.DB, licenseKey string) (*subscriptiondomain.Subscription, error) {
	return r.findByLicenseKey(ctx, db, licenseKey, false)
}

func (r *repo) FindByLicenseKeyForUpdate(ctx context.Context, db *gorm.DB, licenseKey string) (*subscriptiondomain.Subscription, error) {
	return r.findByLicenseKey(ctx, db, licenseKey, true)
}

func (r *repo) findByLicenseKey(ctx context.Context, db *gorm.DB, licenseKey string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	tx := db.WithContext(ctx)
	// sqlite has no row locks; its transactions serialize writers anyway.
	if forUpdate && tx.Dialector.Name() != "sqlite" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var item subscriptiondomain.Subscription
	err := tx.
		Preload("Devices").
		Where("license_key = ?", licenseKey).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Preload("Devices").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindExpiringBefore(ctx context.Context, db *gorm.DB, from, to time.Time) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ?", subscriptiondomain.StatusActive).
		Where("expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", from, to).
		Order("expires_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindExpiredActive(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	stmt := db.WithContext(ctx).
		Where("status = ?", subscriptiondomain.StatusActive).
		Where("expires_at IS NOT NULL AND expires_at < ?", before).
		Order("expires_at ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertDevice(ctx context.Context, db *gorm.DB, device *subscriptiondomain.Device) error {
	return db.WithContext(ctx).Create(device).Error
}

func (r *repo) UpdateDevice(ctx context.Context, db *gorm.DB, device *subscriptiondomain.Device) error {
	return db.WithContext(ctx).Save(device).Error
}

func (r *repo) UpdateDevices(ctx context.Context, db *gorm.DB, devices []subscriptiondomain.Device) error {
	for i := range devices {
		if err := db.WithContext(ctx).Save(&devices[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
