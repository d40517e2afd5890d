package domain

import (
	"context"
	"time"
)

type CreateSubscriptionRequest struct {
	CustomerID    string         `json:"customer_id"`
	Tier          Tier           `json:"tier"`
	DurationDays  int            `json:"duration_days"`
	MaxDevices    int            `json:"max_devices,omitempty"`
	Features      map[string]any `json:"features,omitempty"`
	PriceAmount   *int64         `json:"price_amount,omitempty"`
	PriceCurrency string         `json:"price_currency,omitempty"`
	AutoRenew     bool           `json:"auto_renew,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type UpdateTierRequest struct {
	SubscriptionID string         `json:"-"`
	Tier           Tier           `json:"tier"`
	Features       map[string]any `json:"features,omitempty"`
}

type SubscriptionResponse struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customer_id"`
	LicenseKey      string     `json:"license_key"`
	Tier            Tier       `json:"tier"`
	Status          Status     `json:"status"`
	Features        FeatureMap `json:"features"`
	MaxDevices      int        `json:"max_devices"`
	StartsAt        time.Time  `json:"starts_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	GracePeriodDays int        `json:"grace_period_days"`
	Price           *string    `json:"price,omitempty"`
	AutoRenew       bool       `json:"auto_renew"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type DeviceResponse struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	DeviceName *string    `json:"device_name,omitempty"`
	DeviceType *string    `json:"device_type,omitempty"`
	IsActive   bool       `json:"is_active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type DeviceAnalytics struct {
	Total              int     `json:"total"`
	Active             int     `json:"active"`
	Inactive           int     `json:"inactive"`
	MaxAllowed         int     `json:"max_allowed"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

type AnalyticsResponse struct {
	SubscriptionID  string          `json:"subscription_id"`
	Status          Status          `json:"status"`
	Tier            Tier            `json:"tier"`
	IsUsable        bool            `json:"is_usable"`
	IsExpired       bool            `json:"is_expired"`
	IsInGracePeriod bool            `json:"is_in_grace_period"`
	DaysUntilExpiry *int            `json:"days_until_expiry,omitempty"`
	Devices         DeviceAnalytics `json:"devices"`
	Features        FeatureMap      `json:"features"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}

type ExpiringSubscription struct {
	SubscriptionID  string     `json:"subscription_id"`
	CustomerID      string     `json:"customer_id"`
	Tier            Tier       `json:"tier"`
	ExpiresAt       *time.Time `json:"expires_at"`
	DaysUntilExpiry *int       `json:"days_until_expiry"`
	LicenseKey      string     `json:"license_key"` // masked
}

// Service manages the subscription lifecycle from the admin surface.
type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResponse, error)
	GetByID(ctx context.Context, id string) (*SubscriptionResponse, error)
	ListByCustomer(ctx context.Context, customerID string) ([]SubscriptionResponse, error)
	Suspend(ctx context.Context, id string) (*SubscriptionResponse, error)
	Cancel(ctx context.Context, id string) (*SubscriptionResponse, error)
	Resume(ctx context.Context, id string) (*SubscriptionResponse, error)
	ExtendExpiry(ctx context.Context, id string, days int) (*SubscriptionResponse, error)
	UpdateTier(ctx context.Context, req UpdateTierRequest) (*SubscriptionResponse, error)
	Analytics(ctx context.Context, id string) (*AnalyticsResponse, error)
	ListExpiring(ctx context.Context, withinDays int) ([]ExpiringSubscription, error)
}

type ActivateRequest struct {
	LicenseKey string     `json:"license_key"`
	DeviceID   string     `json:"device_id"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

type ActivateResponse struct {
	Token     string           `json:"token"`
	Action    ActivationAction `json:"action"`
	Device    *DeviceResponse  `json:"device,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	Features  FeatureMap       `json:"features"`
}

type ValidateRequest struct {
	LicenseKey     string `json:"license_key"`
	DeviceID       string `json:"device_id"`
	UpdateLastSeen *bool  `json:"update_last_seen,omitempty"`
}

// ValidateResponse is a structured result, not an error: validation is
// expected to fail often and callers need a reason code.
type ValidateResponse struct {
	Valid           bool       `json:"valid"`
	Reason          string     `json:"reason,omitempty"`
	InGracePeriod   bool       `json:"in_grace_period,omitempty"`
	DaysUntilExpiry *int       `json:"days_until_expiry,omitempty"`
	Features        FeatureMap `json:"features,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// Validate reason codes for negative results.
const (
	ReasonDeviceNotActivated = "device_not_activated"
	ReasonExpired            = "expired"
	ReasonInactive           = "inactive"
)

// LicenseService orchestrates license activation and validation:
// resolve by key, apply the aggregate's rules, persist inside one
// transaction, and mint tokens through the token authority.
type LicenseService interface {
	Activate(ctx context.Context, req ActivateRequest) (*ActivateResponse, error)
	Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error)
	Deactivate(ctx context.Context, licenseKey, deviceID string) (bool, error)
}
