package domain

import "time"

// All time-dependent predicates take now explicitly; the service layer
// supplies it from the injected clock so tests can pin time.

// IsUsableNow is the single predicate every validation path must use:
// status active, started, and within expiry plus grace (or no expiry).
func (s *Subscription) IsUsableNow(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if now.Before(s.StartsAt) {
		return false
	}
	if s.ExpiresAt != nil {
		graceEnd := s.ExpiresAt.Add(time.Duration(s.GracePeriodDays) * 24 * time.Hour)
		if now.After(graceEnd) {
			return false
		}
	}
	return true
}

// IsExpired reports whether the subscription is past expiry plus the
// grace window. Subscriptions without an expiry never expire.
func (s *Subscription) IsExpired(now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	graceEnd := s.ExpiresAt.Add(time.Duration(s.GracePeriodDays) * 24 * time.Hour)
	return now.After(graceEnd)
}

// IsInGracePeriod reports whether now falls strictly after expiry but
// within the grace window.
func (s *Subscription) IsInGracePeriod(now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	graceEnd := s.ExpiresAt.Add(time.Duration(s.GracePeriodDays) * 24 * time.Hour)
	return now.After(*s.ExpiresAt) && !now.After(graceEnd)
}

// DaysUntilExpiry returns whole days until expiry (floored at zero),
// or nil when the subscription never expires.
func (s *Subscription) DaysUntilExpiry(now time.Time) *int {
	if s.ExpiresAt == nil {
		return nil
	}
	days := int(s.ExpiresAt.Sub(now).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}

// Activate moves the subscription to active without touching devices.
func (s *Subscription) Activate(now time.Time) {
	s.Status = StatusActive
	s.UpdatedAt = now
}

// Suspend makes the subscription unusable; devices stay bound.
func (s *Subscription) Suspend(now time.Time) {
	s.Status = StatusSuspended
	s.UpdatedAt = now
}

// Cancel retires the subscription and deactivates every owned device.
// Idempotent: cancelling twice leaves the same state.
func (s *Subscription) Cancel(now time.Time) {
	s.Status = StatusCancelled
	for i := range s.Devices {
		if s.Devices[i].IsActive {
			s.Devices[i].IsActive = false
			s.Devices[i].UpdatedAt = now
		}
	}
	s.UpdatedAt = now
}

// Resume reactivates a suspended or cancelled subscription along with
// its devices. Device activity is tracked on the device's own flag, so
// reactivation flips every inactive device back on; history is never
// deleted by Cancel, which makes this reconstruction possible.
func (s *Subscription) Resume(now time.Time) {
	s.Status = StatusActive
	for i := range s.Devices {
		if !s.Devices[i].IsActive {
			s.Devices[i].IsActive = true
			s.Devices[i].UpdatedAt = now
		}
	}
	s.UpdatedAt = now
}

// MarkExpired caches the derived expired state on the status column.
// Truth still lives in ExpiresAt; this only keeps listings and counts
// cheap. Devices keep their flags so a later extension restores them.
func (s *Subscription) MarkExpired(now time.Time) {
	s.Status = StatusExpired
	s.UpdatedAt = now
}

// ExtendExpiry adds days to the expiry, or sets now+days when unset.
func (s *Subscription) ExtendExpiry(days int, now time.Time) {
	if s.ExpiresAt != nil {
		extended := s.ExpiresAt.Add(time.Duration(days) * 24 * time.Hour)
		s.ExpiresAt = &extended
	} else {
		expires := now.Add(time.Duration(days) * 24 * time.Hour)
		s.ExpiresAt = &expires
	}
	// A cached expired status is stale once the expiry moves forward.
	if s.Status == StatusExpired && s.ExpiresAt.After(now) {
		s.Status = StatusActive
	}
	s.UpdatedAt = now
}

// UpdateTier replaces the feature resolution inputs; devices and
// status are untouched.
func (s *Subscription) UpdateTier(tier Tier, overrides map[string]any, now time.Time) {
	s.Tier = tier
	s.FeatureOverrides = overrides
	s.UpdatedAt = now
}

// ActiveDeviceCount counts devices currently holding a slot.
func (s *Subscription) ActiveDeviceCount() int {
	count := 0
	for i := range s.Devices {
		if s.Devices[i].IsActive {
			count++
		}
	}
	return count
}

// CanAddDevice reports whether a free device slot remains.
func (s *Subscription) CanAddDevice() bool {
	return s.ActiveDeviceCount() < s.MaxDevices
}

// AddDevice binds a device to this subscription, consuming one slot.
func (s *Subscription) AddDevice(device Device, now time.Time) (*Device, error) {
	if !s.CanAddDevice() {
		return nil, &DeviceLimitExceededError{Current: s.ActiveDeviceCount(), Max: s.MaxDevices}
	}
	device.SubscriptionID = s.ID
	s.Devices = append(s.Devices, device)
	s.UpdatedAt = now
	return &s.Devices[len(s.Devices)-1], nil
}

// RemoveDevice releases the slot held by the device with the given
// client-supplied id. Absent devices are a no-op, not an error.
func (s *Subscription) RemoveDevice(deviceID string, now time.Time) bool {
	for i := range s.Devices {
		if s.Devices[i].DeviceID == deviceID {
			s.Devices[i].IsActive = false
			s.Devices[i].UpdatedAt = now
			s.UpdatedAt = now
			return true
		}
	}
	return false
}

// Device finds a bound device by its client-supplied id. Lookup scope
// is this subscription only; ids are not globally unique.
func (s *Subscription) Device(deviceID string) *Device {
	for i := range s.Devices {
		if s.Devices[i].DeviceID == deviceID {
			return &s.Devices[i]
		}
	}
	return nil
}

// ActivationAction describes what Activate should do for a device.
type ActivationAction string

const (
	ActionAlreadyActive ActivationAction = "already_active"
	ActionReactivated   ActivationAction = "reactivated"
	ActionCanActivate   ActivationAction = "can_activate"
)

// ActivationCheck is the outcome of ValidateForActivation. Device is
// set for the already-bound cases.
type ActivationCheck struct {
	Action ActivationAction
	Device *Device
}

// ValidateForActivation decides how a device activation should proceed:
// short-circuit for an already-active device, reactivate a known but
// inactive one, or confirm a free slot for a new device.
func (s *Subscription) ValidateForActivation(deviceID string, now time.Time) (ActivationCheck, error) {
	if !s.IsUsableNow(now) {
		if s.IsExpired(now) {
			return ActivationCheck{}, &SubscriptionExpiredError{
				SubscriptionID: s.ID.String(),
				ExpiredAt:      s.ExpiresAt,
			}
		}
		return ActivationCheck{}, ErrSubscriptionNotActive
	}

	if existing := s.Device(deviceID); existing != nil {
		if existing.IsActive {
			return ActivationCheck{Action: ActionAlreadyActive, Device: existing}, nil
		}
		existing.IsActive = true
		existing.UpdatedAt = now
		return ActivationCheck{Action: ActionReactivated, Device: existing}, nil
	}

	if !s.CanAddDevice() {
		return ActivationCheck{}, &DeviceLimitExceededError{Current: s.ActiveDeviceCount(), Max: s.MaxDevices}
	}

	return ActivationCheck{Action: ActionCanActivate}, nil
}
