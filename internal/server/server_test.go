package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowlytix/subscription-server/internal/clock"
	"github.com/flowlytix/subscription-server/internal/config"
	customerdomain "github.com/flowlytix/subscription-server/internal/customer/domain"
	customerrepo "github.com/flowlytix/subscription-server/internal/customer/repository"
	customerservice "github.com/flowlytix/subscription-server/internal/customer/service"
	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	subscriptionrepo "github.com/flowlytix/subscription-server/internal/subscription/repository"
	subscriptionservice "github.com/flowlytix/subscription-server/internal/subscription/service"
	"github.com/flowlytix/subscription-server/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func serverTestConfig() config.Config {
	return config.Config{
		AccessTokenSecret:        "server-test-secret",
		AccessTokenExpireMinutes: 30,
		AdminEmail:               "admin@flowlytix.test",
		AdminPassword:            "s3cret",
		LicenseKeyPrefix:         "FL",
		LicenseTokenTTLDays:      30,
		DefaultGracePeriodDays:   7,
		MaxDevicesDefault:        1,
	}
}

type serverFixture struct {
	engine *gin.Engine
	db     *gorm.DB
	clock  *clock.FakeClock
	svc    subscriptiondomain.Service

	customerID string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := db.AutoMigrate(
		&customerdomain.Customer{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Device{},
	); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := serverTestConfig()
	log := zap.NewNop()

	dir := t.TempDir()
	keys, err := token.LoadOrGenerateKeyring(
		filepath.Join(dir, "private_key.pem"),
		filepath.Join(dir, "public_key.pem"),
	)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	authority := token.NewAuthority(keys, clk, 30*24*time.Hour, log)

	accessTokens, err := token.NewAccessTokens(cfg.AccessTokenSecret, clk, 30*time.Minute, log)
	if err != nil {
		t.Fatalf("access tokens: %v", err)
	}

	customerSvc := customerservice.New(customerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  customerrepo.Provide(),
	})
	subscriptionSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:    db,
		Log:   log,
		Cfg:   cfg,
		GenID: node,
		Clock: clk,
		Repo:  subscriptionrepo.Provide(),
	})
	licenseSvc := subscriptionservice.NewLicenseService(subscriptionservice.LicenseServiceParam{
		DB:        db,
		Log:       log,
		Cfg:       cfg,
		GenID:     node,
		Clock:     clk,
		Repo:      subscriptionrepo.Provide(),
		Authority: authority,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		Log:             log,
		DB:              db,
		CustomerSvc:     customerSvc,
		SubscriptionSvc: subscriptionSvc,
		LicenseSvc:      licenseSvc,
		Authority:       authority,
		AccessTokens:    accessTokens,
	})
	registerRoutes(srv)

	f := &serverFixture{engine: engine, db: db, clock: clk, svc: subscriptionSvc}

	customer := &customerdomain.Customer{
		ID:        node.Generate(),
		Name:      "Acme Retail",
		Email:     "owner@acme.test",
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}
	if err := db.Create(customer).Error; err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	f.customerID = customer.ID.String()
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var decoded map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, decoded
}

func (f *serverFixture) login(t *testing.T) string {
	t.Helper()
	w, body := f.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "admin@flowlytix.test",
		"password": "s3cret",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	tok, _ := data["access_token"].(string)
	if tok == "" {
		t.Fatalf("no access token in %v", data)
	}
	return tok
}

func authHeader(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func (f *serverFixture) createSubscription(t *testing.T, maxDevices int) (id, key string) {
	t.Helper()
	resp, err := f.svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:   f.customerID,
		Tier:         subscriptiondomain.TierProfessional,
		DurationDays: 365,
		MaxDevices:   maxDevices,
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return resp.ID, resp.LicenseKey
}

func errPayload(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	payload, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error payload, got %v", body)
	}
	return payload
}

func TestActivateEndpoint(t *testing.T) {
	f := newServerFixture(t)
	_, key := f.createSubscription(t, 2)

	w, body := f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": key,
		"device_id":   "dev-1",
		"device_info": gin.H{"device_name": "office laptop"},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	data := body["data"].(map[string]any)
	if data["action"] != "can_activate" {
		t.Fatalf("expected can_activate, got %v", data["action"])
	}
	if tok, _ := data["token"].(string); tok == "" {
		t.Fatalf("expected license token")
	}
	device := data["device"].(map[string]any)
	if device["device_id"] != "dev-1" {
		t.Fatalf("unexpected device: %v", device)
	}
}

func TestActivateEndpointUnknownKey(t *testing.T) {
	f := newServerFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": "FL-AAAA-BBBB-CCCC-DDDD",
		"device_id":   "dev-1",
	}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}
	if errPayload(t, body)["type"] != "not_found" {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestActivateEndpointValidation(t *testing.T) {
	f := newServerFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"device_id": "dev-1",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
	payload := errPayload(t, body)
	if payload["type"] != "validation_error" {
		t.Fatalf("unexpected error type: %v", payload)
	}
	errs := payload["errors"].([]any)
	first := errs[0].(map[string]any)
	if first["field"] != "license_key" {
		t.Fatalf("unexpected validation field: %v", first)
	}
}

func TestActivateEndpointDeviceLimit(t *testing.T) {
	f := newServerFixture(t)
	_, key := f.createSubscription(t, 1)

	w, _ := f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": key, "device_id": "dev-1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("first activate: %d %s", w.Code, w.Body.String())
	}

	w, body := f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": key, "device_id": "dev-2",
	}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body.String())
	}
	payload := errPayload(t, body)
	if payload["type"] != "device_limit_exceeded" {
		t.Fatalf("unexpected error type: %v", payload)
	}
	details := payload["details"].(map[string]any)
	if details["max_devices"] != float64(1) || details["current_devices"] != float64(1) {
		t.Fatalf("unexpected details: %v", details)
	}
}

func TestActivateEndpointExpired(t *testing.T) {
	f := newServerFixture(t)
	_, key := f.createSubscription(t, 1)

	f.clock.Advance(380 * 24 * time.Hour)

	w, body := f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": key, "device_id": "dev-1",
	}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", w.Code, w.Body.String())
	}
	payload := errPayload(t, body)
	if payload["type"] != "subscription_expired" {
		t.Fatalf("unexpected error type: %v", payload)
	}
	details := payload["details"].(map[string]any)
	if details["expired_at"] == nil {
		t.Fatalf("expected expired_at detail: %v", details)
	}
}

func TestValidateEndpointNegativeResult(t *testing.T) {
	f := newServerFixture(t)

	// Unknown keys are a result, not an error. The endpoint stays 200
	// so clients can distinguish "invalid license" from transport
	// failures.
	w, body := f.do(t, http.MethodPost, "/api/v1/license/validate", gin.H{
		"license_key": "FL-AAAA-BBBB-CCCC-DDDD",
		"device_id":   "dev-1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	if data["valid"] != false || data["reason"] != "license_key_invalid" {
		t.Fatalf("unexpected result: %v", data)
	}
}

func TestValidateEndpointActivatedDevice(t *testing.T) {
	f := newServerFixture(t)
	_, key := f.createSubscription(t, 1)

	w, _ := f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": key, "device_id": "dev-1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", w.Code, w.Body.String())
	}

	w, body := f.do(t, http.MethodPost, "/api/v1/license/validate", gin.H{
		"license_key": key, "device_id": "dev-1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	if data["valid"] != true {
		t.Fatalf("expected valid result, got %v", data)
	}
	if data["days_until_expiry"] != float64(365) {
		t.Fatalf("unexpected days_until_expiry: %v", data["days_until_expiry"])
	}
}

func TestDeactivateEndpoint(t *testing.T) {
	f := newServerFixture(t)
	_, key := f.createSubscription(t, 1)

	f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": key, "device_id": "dev-1",
	}, nil)

	w, body := f.do(t, http.MethodPost, "/api/v1/license/deactivate", gin.H{
		"license_key": key, "device_id": "dev-1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	if data["deactivated"] != true {
		t.Fatalf("unexpected result: %v", data)
	}

	// A freed slot accepts another device.
	w, body = f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": key, "device_id": "dev-2",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reactivate after deactivate: %d %s", w.Code, w.Body.String())
	}
	if body["data"].(map[string]any)["action"] != "can_activate" {
		t.Fatalf("unexpected action: %v", body)
	}
}

func TestVerifyTokenEndpoint(t *testing.T) {
	f := newServerFixture(t)
	_, key := f.createSubscription(t, 1)

	w, body := f.do(t, http.MethodPost, "/api/v1/license/activate", gin.H{
		"license_key": key, "device_id": "dev-1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", w.Code, w.Body.String())
	}
	licenseToken := body["data"].(map[string]any)["token"].(string)

	w, body = f.do(t, http.MethodPost, "/api/v1/license/verify", gin.H{"token": licenseToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	if data["valid"] != true || data["device_id"] != "dev-1" {
		t.Fatalf("unexpected verify result: %v", data)
	}

	w, body = f.do(t, http.MethodPost, "/api/v1/license/verify", gin.H{"token": "garbage"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify garbage: %d %s", w.Code, w.Body.String())
	}
	data = body["data"].(map[string]any)
	if data["valid"] != false {
		t.Fatalf("expected invalid result, got %v", data)
	}

	w, body = f.do(t, http.MethodPost, "/api/v1/license/verify", gin.H{"token": "  "}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank token, got %d %s", w.Code, w.Body.String())
	}
}

func TestLoginEndpoint(t *testing.T) {
	f := newServerFixture(t)

	tok := f.login(t)

	// The issued token opens admin routes.
	w, _ := f.do(t, http.MethodGet, "/api/v1/customers", nil, authHeader(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", w.Code, w.Body.String())
	}
}

func TestLoginEndpointRejectsBadCredentials(t *testing.T) {
	f := newServerFixture(t)

	cases := []gin.H{
		{"email": "admin@flowlytix.test", "password": "wrong"},
		{"email": "other@flowlytix.test", "password": "s3cret"},
		{"email": "", "password": ""},
	}
	for _, c := range cases {
		w, body := f.do(t, http.MethodPost, "/api/v1/auth/login", c, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %v, got %d %s", c, w.Code, w.Body.String())
		}
		if errPayload(t, body)["type"] != "unauthorized" {
			t.Fatalf("unexpected payload: %v", body)
		}
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newServerFixture(t)

	w, _ := f.do(t, http.MethodGet, "/api/v1/customers", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w, _ = f.do(t, http.MethodGet, "/api/v1/customers", nil, authHeader("not-a-token"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", w.Code)
	}

	w, _ = f.do(t, http.MethodGet, "/api/v1/customers", nil, map[string]string{"Authorization": "Basic abc"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong scheme, got %d", w.Code)
	}
}

func TestCustomerEndpoints(t *testing.T) {
	f := newServerFixture(t)
	tok := f.login(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/customers", gin.H{
		"name":  "Globex",
		"email": "it@globex.test",
	}, authHeader(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("create customer: %d %s", w.Code, w.Body.String())
	}
	created := body["data"].(map[string]any)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected customer id, got %v", created)
	}

	w, body = f.do(t, http.MethodGet, "/api/v1/customers/"+id, nil, authHeader(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("get customer: %d %s", w.Code, w.Body.String())
	}
	if body["data"].(map[string]any)["email"] != "it@globex.test" {
		t.Fatalf("unexpected customer: %v", body)
	}

	w, body = f.do(t, http.MethodGet, "/api/v1/customers?created_from=not-a-date", nil, authHeader(tok))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad filter, got %d %s", w.Code, w.Body.String())
	}
	if errPayload(t, body)["type"] != "validation_error" {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestSubscriptionLifecycleEndpoints(t *testing.T) {
	f := newServerFixture(t)
	tok := f.login(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"customer_id":   f.customerID,
		"tier":          "basic",
		"duration_days": 30,
	}, authHeader(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("create subscription: %d %s", w.Code, w.Body.String())
	}
	id := body["data"].(map[string]any)["id"].(string)

	w, body = f.do(t, http.MethodPost, "/api/v1/subscriptions/"+id+"/suspend", nil, authHeader(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("suspend: %d %s", w.Code, w.Body.String())
	}
	if body["data"].(map[string]any)["status"] != "suspended" {
		t.Fatalf("unexpected status: %v", body)
	}

	w, body = f.do(t, http.MethodPost, "/api/v1/subscriptions/"+id+"/resume", nil, authHeader(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("resume: %d %s", w.Code, w.Body.String())
	}

	// Resuming an active subscription is a state conflict, not a 500.
	w, body = f.do(t, http.MethodPost, "/api/v1/subscriptions/"+id+"/resume", nil, authHeader(tok))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body.String())
	}

	w, body = f.do(t, http.MethodGet, "/api/v1/subscriptions/"+id, nil, authHeader(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	if data["status"] != "active" || data["tier"] != "basic" {
		t.Fatalf("unexpected subscription: %v", data)
	}

	w, _ = f.do(t, http.MethodGet, "/api/v1/subscriptions/999999", nil, authHeader(tok))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", w.Code)
	}
}
