package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	"github.com/flowlytix/subscription-server/internal/subscription/repository"
	"github.com/flowlytix/subscription-server/internal/token"
	"go.uber.org/zap"
)

type licenseFixture struct {
	*serviceFixture
	licenseSvc subscriptiondomain.LicenseService
	authority  *token.Authority
}

func newLicenseFixture(t *testing.T) *licenseFixture {
	t.Helper()
	base := newServiceFixture(t)

	dir := t.TempDir()
	keys, err := token.LoadOrGenerateKeyring(
		filepath.Join(dir, "private_key.pem"),
		filepath.Join(dir, "public_key.pem"),
	)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	authority := token.NewAuthority(keys, base.clock, 30*24*time.Hour, zap.NewNop())

	licenseSvc := NewLicenseService(LicenseServiceParam{
		DB:        base.db,
		Log:       zap.NewNop(),
		Cfg:       testConfig(),
		GenID:     base.node,
		Clock:     base.clock,
		Repo:      repository.Provide(),
		Authority: authority,
	})

	return &licenseFixture{
		serviceFixture: base,
		licenseSvc:     licenseSvc,
		authority:      authority,
	}
}

func TestActivateNewDevice(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{MaxDevices: 2})

	name := "office laptop"
	resp, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
		DeviceInfo: subscriptiondomain.DeviceInfo{DeviceName: &name},
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	if resp.Action != subscriptiondomain.ActionCanActivate {
		t.Fatalf("expected can_activate, got %s", resp.Action)
	}
	if resp.Device == nil || resp.Device.DeviceID != "dev-1" || !resp.Device.IsActive {
		t.Fatalf("unexpected device: %+v", resp.Device)
	}
	if resp.Device.DeviceName == nil || *resp.Device.DeviceName != "office laptop" {
		t.Fatalf("expected device info applied")
	}
	if !resp.Features.Has("analytics") {
		t.Fatalf("expected tier features in response")
	}

	// The returned token verifies against the same authority and binds
	// subscription and device.
	result := f.authority.Verify(resp.Token)
	if !result.Valid {
		t.Fatalf("token invalid: %s", result.Reason)
	}
	if result.Claims.SubscriptionID != created.ID || result.Claims.DeviceID != "dev-1" {
		t.Fatalf("unexpected claims: %+v", result.Claims)
	}
}

func TestActivateIdempotent(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{MaxDevices: 1})

	first, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	})
	if err != nil {
		t.Fatalf("first activate: %v", err)
	}
	if first.Action != subscriptiondomain.ActionCanActivate {
		t.Fatalf("expected can_activate, got %s", first.Action)
	}

	// Same device again: no new slot, fresh token.
	second, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	})
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if second.Action != subscriptiondomain.ActionAlreadyActive {
		t.Fatalf("expected already_active, got %s", second.Action)
	}

	var count int64
	if err := f.db.Model(&subscriptiondomain.Device{}).Count(&count).Error; err != nil {
		t.Fatalf("count devices: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one device row, got %d", count)
	}
}

func TestActivateSlotExhaustionAndRelease(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{MaxDevices: 1})

	if _, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	}); err != nil {
		t.Fatalf("activate dev-1: %v", err)
	}

	_, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-2",
	})
	if !errors.Is(err, subscriptiondomain.ErrDeviceLimitExceeded) {
		t.Fatalf("expected device limit error, got %v", err)
	}
	var limitErr *subscriptiondomain.DeviceLimitExceededError
	if !errors.As(err, &limitErr) || limitErr.Current != 1 || limitErr.Max != 1 {
		t.Fatalf("unexpected limit error details: %v", err)
	}

	// Deactivating dev-1 releases the slot for dev-2.
	removed, err := f.licenseSvc.Deactivate(ctx, created.LicenseKey, "dev-1")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !removed {
		t.Fatalf("expected a device to be released")
	}

	resp, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-2",
	})
	if err != nil {
		t.Fatalf("activate dev-2 after release: %v", err)
	}
	if resp.Action != subscriptiondomain.ActionCanActivate {
		t.Fatalf("expected can_activate, got %s", resp.Action)
	}
}

func TestActivateReactivatesReleasedDevice(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{MaxDevices: 1})

	if _, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := f.licenseSvc.Deactivate(ctx, created.LicenseKey, "dev-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	resp, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	})
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if resp.Action != subscriptiondomain.ActionReactivated {
		t.Fatalf("expected reactivated, got %s", resp.Action)
	}

	var count int64
	if err := f.db.Model(&subscriptiondomain.Device{}).Count(&count).Error; err != nil {
		t.Fatalf("count devices: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the original device row to be reused, got %d rows", count)
	}
}

func TestActivateErrors(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	t.Run("malformed key", func(t *testing.T) {
		_, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			LicenseKey: "not-a-key",
			DeviceID:   "dev-1",
		})
		if !errors.Is(err, subscriptiondomain.ErrLicenseKeyInvalid) {
			t.Fatalf("expected license_key_invalid, got %v", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			LicenseKey: "FL-AAAA-BBBB-CCCC-DDDD",
			DeviceID:   "dev-1",
		})
		if !errors.Is(err, subscriptiondomain.ErrLicenseKeyInvalid) {
			t.Fatalf("expected license_key_invalid, got %v", err)
		}
	})

	t.Run("missing device id", func(t *testing.T) {
		created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{})
		_, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "   ",
		})
		if !errors.Is(err, subscriptiondomain.ErrDeviceNotFound) {
			t.Fatalf("expected device_not_found, got %v", err)
		}
	})

	t.Run("suspended subscription", func(t *testing.T) {
		created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{})
		if _, err := f.svc.Suspend(ctx, created.ID); err != nil {
			t.Fatalf("suspend: %v", err)
		}
		_, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "dev-1",
		})
		if !errors.Is(err, subscriptiondomain.ErrSubscriptionNotActive) {
			t.Fatalf("expected subscription_not_active, got %v", err)
		}
	})

	t.Run("expired past grace", func(t *testing.T) {
		created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{DurationDays: 1})
		f.clock.Advance(9 * 24 * time.Hour)
		defer f.clock.Advance(-9 * 24 * time.Hour)

		_, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "dev-1",
		})
		if !errors.Is(err, subscriptiondomain.ErrSubscriptionExpired) {
			t.Fatalf("expected subscription_expired, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{DurationDays: 30})

	if _, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	resp, err := f.licenseSvc.Validate(ctx, subscriptiondomain.ValidateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !resp.Valid {
		t.Fatalf("expected valid, got reason %s", resp.Reason)
	}
	if resp.InGracePeriod {
		t.Fatalf("expected no grace period yet")
	}
	if resp.DaysUntilExpiry == nil || *resp.DaysUntilExpiry != 30 {
		t.Fatalf("unexpected days until expiry: %+v", resp.DaysUntilExpiry)
	}
	if !resp.Features.Has("analytics") {
		t.Fatalf("expected features in response")
	}

	// last_seen_at is stamped by default.
	var device subscriptiondomain.Device
	if err := f.db.Where("device_id = ?", "dev-1").First(&device).Error; err != nil {
		t.Fatalf("load device: %v", err)
	}
	if device.LastSeenAt == nil || !device.LastSeenAt.Equal(f.clock.Now()) {
		t.Fatalf("expected last seen stamped at the pinned clock, got %+v", device.LastSeenAt)
	}
}

func TestValidateNegativeResults(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	assertInvalid := func(t *testing.T, req subscriptiondomain.ValidateRequest, wantReason string) {
		t.Helper()
		resp, err := f.licenseSvc.Validate(ctx, req)
		if err != nil {
			t.Fatalf("validate must not error: %v", err)
		}
		if resp.Valid {
			t.Fatalf("expected invalid result")
		}
		if resp.Reason != wantReason {
			t.Fatalf("expected reason %q, got %q", wantReason, resp.Reason)
		}
	}

	t.Run("malformed key", func(t *testing.T) {
		assertInvalid(t, subscriptiondomain.ValidateRequest{
			LicenseKey: "garbage",
			DeviceID:   "dev-1",
		}, subscriptiondomain.ErrLicenseKeyInvalid.Error())
	})

	t.Run("unknown key", func(t *testing.T) {
		assertInvalid(t, subscriptiondomain.ValidateRequest{
			LicenseKey: "FL-AAAA-BBBB-CCCC-DDDD",
			DeviceID:   "dev-1",
		}, subscriptiondomain.ErrLicenseKeyInvalid.Error())
	})

	t.Run("device never activated", func(t *testing.T) {
		created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{})
		assertInvalid(t, subscriptiondomain.ValidateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "dev-unknown",
		}, subscriptiondomain.ReasonDeviceNotActivated)
	})

	t.Run("deactivated device", func(t *testing.T) {
		created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{})
		if _, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "dev-1",
		}); err != nil {
			t.Fatalf("activate: %v", err)
		}
		if _, err := f.licenseSvc.Deactivate(ctx, created.LicenseKey, "dev-1"); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		assertInvalid(t, subscriptiondomain.ValidateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "dev-1",
		}, subscriptiondomain.ReasonDeviceNotActivated)
	})

	t.Run("suspended reports inactive", func(t *testing.T) {
		created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{})
		if _, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "dev-1",
		}); err != nil {
			t.Fatalf("activate: %v", err)
		}
		if _, err := f.svc.Suspend(ctx, created.ID); err != nil {
			t.Fatalf("suspend: %v", err)
		}
		assertInvalid(t, subscriptiondomain.ValidateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "dev-1",
		}, subscriptiondomain.ReasonInactive)
	})

	t.Run("device check precedes expiry check", func(t *testing.T) {
		created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{DurationDays: 1})
		f.clock.Advance(10 * 24 * time.Hour)
		defer f.clock.Advance(-10 * 24 * time.Hour)

		assertInvalid(t, subscriptiondomain.ValidateRequest{
			LicenseKey: created.LicenseKey,
			DeviceID:   "dev-unknown",
		}, subscriptiondomain.ReasonDeviceNotActivated)
	})
}

func TestValidateGracePeriod(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{DurationDays: 30})

	if _, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Two days past expiry: still valid, flagged as grace.
	f.clock.Advance(32 * 24 * time.Hour)
	resp, err := f.licenseSvc.Validate(ctx, subscriptiondomain.ValidateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !resp.Valid || !resp.InGracePeriod {
		t.Fatalf("expected valid in grace period, got %+v", resp)
	}
	if resp.DaysUntilExpiry == nil || *resp.DaysUntilExpiry != 0 {
		t.Fatalf("expected zero days until expiry, got %+v", resp.DaysUntilExpiry)
	}

	// Past the grace window: expired, regardless of the cached status.
	f.clock.Advance(6 * 24 * time.Hour)
	resp, err = f.licenseSvc.Validate(ctx, subscriptiondomain.ValidateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if resp.Valid || resp.Reason != subscriptiondomain.ReasonExpired {
		t.Fatalf("expected expired, got %+v", resp)
	}
	if resp.ExpiresAt == nil {
		t.Fatalf("expected expiry timestamp in the negative result")
	}
}

func TestValidateSkipLastSeen(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{})

	if _, err := f.licenseSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		LicenseKey: created.LicenseKey,
		DeviceID:   "dev-1",
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	activatedAt := f.clock.Now()

	f.clock.Advance(time.Hour)
	skip := false
	if _, err := f.licenseSvc.Validate(ctx, subscriptiondomain.ValidateRequest{
		LicenseKey:     created.LicenseKey,
		DeviceID:       "dev-1",
		UpdateLastSeen: &skip,
	}); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var device subscriptiondomain.Device
	if err := f.db.Where("device_id = ?", "dev-1").First(&device).Error; err != nil {
		t.Fatalf("load device: %v", err)
	}
	if device.LastSeenAt == nil || !device.LastSeenAt.Equal(activatedAt) {
		t.Fatalf("expected last seen untouched, got %+v", device.LastSeenAt)
	}
}

func TestDeactivate(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{})

	// Unknown device is a no-op, not an error.
	removed, err := f.licenseSvc.Deactivate(ctx, created.LicenseKey, "dev-unknown")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if removed {
		t.Fatalf("expected no device removed")
	}

	// Malformed and unknown keys are errors here, unlike Validate.
	if _, err := f.licenseSvc.Deactivate(ctx, "garbage", "dev-1"); !errors.Is(err, subscriptiondomain.ErrLicenseKeyInvalid) {
		t.Fatalf("expected license_key_invalid, got %v", err)
	}
	if _, err := f.licenseSvc.Deactivate(ctx, "FL-AAAA-BBBB-CCCC-DDDD", "dev-1"); !errors.Is(err, subscriptiondomain.ErrLicenseKeyInvalid) {
		t.Fatalf("expected license_key_invalid, got %v", err)
	}
}

func TestActivateConcurrentDeviceLimit(t *testing.T) {
	f := newLicenseFixture(t)
	created := f.createSubscription(t, subscriptiondomain.CreateSubscriptionRequest{MaxDevices: 2})

	// A single pooled connection serializes the transactions the way
	// row locking does on a real database, so the race is decided
	// inside the unit of work rather than by the test scheduler.
	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	const attempts = 5
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = f.licenseSvc.Activate(context.Background(), subscriptiondomain.ActivateRequest{
				LicenseKey: created.LicenseKey,
				DeviceID:   fmt.Sprintf("dev-%d", n),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for n, activateErr := range errs {
		if activateErr == nil {
			succeeded++
			continue
		}
		var limitErr *subscriptiondomain.DeviceLimitExceededError
		if !errors.As(activateErr, &limitErr) {
			t.Fatalf("device %d: expected device limit error, got %v", n, activateErr)
		}
		if limitErr.Current != 2 || limitErr.Max != 2 {
			t.Fatalf("device %d: unexpected slot counts: %+v", n, limitErr)
		}
	}
	if succeeded != 2 {
		t.Fatalf("expected exactly 2 activations to win, got %d", succeeded)
	}

	var active int64
	if err := f.db.Model(&subscriptiondomain.Device{}).Where("is_active = ?", true).Count(&active).Error; err != nil {
		t.Fatalf("count devices: %v", err)
	}
	if active != 2 {
		t.Fatalf("expected 2 active devices, got %d", active)
	}
}
