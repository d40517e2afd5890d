package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the storage contract for subscription aggregates.
// Implementations take the *gorm.DB explicitly so services control
// transaction boundaries; every mutation inside one request runs in a
// single transaction. Finders return (nil, nil) when nothing matches
// and surface storage faults as opaque errors.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByLicenseKey(ctx context.Context, db *gorm.DB, licenseKey string) (*Subscription, error)
	// FindByLicenseKeyForUpdate locks the subscription row so that
	// concurrent activations against the same subscription serialize
	// and cannot both observe a free device slot.
	FindByLicenseKeyForUpdate(ctx context.Context, db *gorm.DB, licenseKey string) (*Subscription, error)
	FindByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]Subscription, error)
	FindExpiringBefore(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Subscription, error)
	FindExpiredActive(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Subscription, error)
	InsertDevice(ctx context.Context, db *gorm.DB, device *Device) error
	UpdateDevice(ctx context.Context, db *gorm.DB, device *Device) error
	UpdateDevices(ctx context.Context, db *gorm.DB, devices []Device) error
}
