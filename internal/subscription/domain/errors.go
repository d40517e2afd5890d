package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLicenseKeyInvalid     = errors.New("license_key_invalid")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionExpired   = errors.New("subscription_expired")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrDeviceLimitExceeded   = errors.New("device_limit_exceeded")
	ErrDeviceNotFound        = errors.New("device_not_found")
	ErrCustomerNotFound      = errors.New("customer_not_found")
	ErrInvalidTier           = errors.New("invalid_tier")
	ErrInvalidDuration       = errors.New("invalid_duration")
	ErrInvalidMaxDevices     = errors.New("invalid_max_devices")
	ErrInvalidTransition     = errors.New("invalid_transition")
)

// DeviceLimitExceededError carries the slot numbers so callers can
// render a user-facing message. errors.Is matches ErrDeviceLimitExceeded.
type DeviceLimitExceededError struct {
	Current int
	Max     int
}

func (e *DeviceLimitExceededError) Error() string {
	return fmt.Sprintf("device limit exceeded: %d of %d slots in use", e.Current, e.Max)
}

func (e *DeviceLimitExceededError) Is(target error) bool {
	return target == ErrDeviceLimitExceeded
}

// SubscriptionExpiredError reports an expiry past the grace window.
// errors.Is matches ErrSubscriptionExpired.
type SubscriptionExpiredError struct {
	SubscriptionID string
	ExpiredAt      *time.Time
}

func (e *SubscriptionExpiredError) Error() string {
	if e.ExpiredAt != nil {
		return fmt.Sprintf("subscription %s expired at %s", e.SubscriptionID, e.ExpiredAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("subscription %s expired", e.SubscriptionID)
}

func (e *SubscriptionExpiredError) Is(target error) bool {
	return target == ErrSubscriptionExpired
}
