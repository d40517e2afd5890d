// Package domain contains the subscription aggregate: the persistence
// models, the tier feature catalog, and the business rules for
// lifecycle, usability windows, and device slots.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowlytix/subscription-server/internal/money"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription. Expired is a
// derived state: usability is always computed from timing fields at
// read time, and a stored "expired" value is only an opportunistic
// cache, never ground truth.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Tier identifies the feature bundle a subscription is sold under.
type Tier string

const (
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
	TierTrial        Tier = "trial"
)

// Subscription captures a customer's license agreement and owns its
// bound devices. All invariants are enforced by methods on this type;
// no validation logic reaches into it from outside.
type Subscription struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	CustomerID       snowflake.ID      `gorm:"not null;index"`
	LicenseKey       string            `gorm:"type:text;not null;uniqueIndex"`
	Tier             Tier              `gorm:"type:text;not null"`
	Status           Status            `gorm:"type:text;not null"`
	FeatureOverrides datatypes.JSONMap `gorm:"type:jsonb"`
	MaxDevices       int               `gorm:"not null;default:1"`
	StartsAt         time.Time         `gorm:"not null"`
	ExpiresAt        *time.Time        `gorm:""`
	GracePeriodDays  int               `gorm:"not null;default:7"`
	PriceAmount      *int64            `gorm:""`
	PriceCurrency    string            `gorm:"type:text;not null;default:'USD'"`
	AutoRenew        bool              `gorm:"not null;default:false"`
	RenewalDays      *int              `gorm:""`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Devices []Device `gorm:"foreignKey:SubscriptionID;constraint:OnDelete:CASCADE"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Price returns the subscription price as a money value, if priced.
func (s *Subscription) Price() (money.Money, bool) {
	if s.PriceAmount == nil {
		return money.Money{}, false
	}
	m, err := money.New(*s.PriceAmount, s.PriceCurrency)
	if err != nil {
		return money.Money{}, false
	}
	return m, true
}

// Device is a client machine bound to a subscription slot. DeviceID is
// the client-supplied identifier, unique within one subscription only.
// Devices are deactivated by flag, never deleted, so resume can
// reconstruct prior activity from the flag itself.
type Device struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	SubscriptionID snowflake.ID      `gorm:"not null;uniqueIndex:ux_devices_subscription_device,priority:1"`
	DeviceID       string            `gorm:"column:device_id;type:text;not null;uniqueIndex:ux_devices_subscription_device,priority:2"`
	DeviceName     *string           `gorm:"type:text"`
	DeviceType     *string           `gorm:"type:text"`
	Fingerprint    *string           `gorm:"type:text"`
	OSName         *string           `gorm:"column:os_name;type:text"`
	OSVersion      *string           `gorm:"column:os_version;type:text"`
	AppVersion     *string           `gorm:"column:app_version;type:text"`
	IsActive       bool              `gorm:"column:is_active;not null;default:true"`
	LastSeenAt     *time.Time        `gorm:"column:last_seen_at"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Device) TableName() string { return "devices" }

// DeviceInfo carries the client-reported attributes of a device, set
// on first activation and refreshed on re-activation.
type DeviceInfo struct {
	DeviceName  *string `json:"device_name,omitempty"`
	DeviceType  *string `json:"device_type,omitempty"`
	Fingerprint *string `json:"fingerprint,omitempty"`
	OSName      *string `json:"os_name,omitempty"`
	OSVersion   *string `json:"os_version,omitempty"`
	AppVersion  *string `json:"app_version,omitempty"`
}

// Touch records device activity at the given instant.
func (d *Device) Touch(now time.Time) {
	d.LastSeenAt = &now
	d.UpdatedAt = now
}

// ApplyInfo refreshes the client-reported attributes that were sent.
func (d *Device) ApplyInfo(info DeviceInfo, now time.Time) {
	if info.DeviceName != nil {
		d.DeviceName = info.DeviceName
	}
	if info.DeviceType != nil {
		d.DeviceType = info.DeviceType
	}
	if info.Fingerprint != nil {
		d.Fingerprint = info.Fingerprint
	}
	if info.OSName != nil {
		d.OSName = info.OSName
	}
	if info.OSVersion != nil {
		d.OSVersion = info.OSVersion
	}
	if info.AppVersion != nil {
		d.AppVersion = info.AppVersion
	}
	d.UpdatedAt = now
}
