package server

import (
	"net/http"
	"strconv"
	"strings"

	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	"github.com/gin-gonic/gin"
)

type activateLicenseRequest struct {
	LicenseKey string                        `json:"license_key"`
	DeviceID   string                        `json:"device_id"`
	DeviceInfo subscriptiondomain.DeviceInfo `json:"device_info"`
}

func (s *Server) ActivateLicense(c *gin.Context) {
	var req activateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.LicenseKey) == "" {
		AbortWithError(c, newValidationError("license_key", "invalid_license_key", "license_key is required"))
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		AbortWithError(c, newValidationError("device_id", "invalid_device_id", "device_id is required"))
		return
	}
	if !s.allowLicenseKey(c, req.LicenseKey) {
		return
	}

	resp, err := s.licenseSvc.Activate(c.Request.Context(), subscriptiondomain.ActivateRequest{
		LicenseKey: req.LicenseKey,
		DeviceID:   req.DeviceID,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// allowLicenseKey applies the per-key throttle. It writes the error
// response itself and reports whether the request may continue.
func (s *Server) allowLicenseKey(c *gin.Context, licenseKey string) bool {
	if !s.limiter.Enabled() {
		return true
	}

	result, err := s.limiter.AllowLicenseKey(c.Request.Context(), licenseKey)
	if err != nil {
		return true
	}
	if !result.Allowed {
		s.metrics.RecordRateLimitDenied(c.Request.Context(), c.FullPath())
		c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
		AbortWithError(c, ErrTooManyRequests)
		return false
	}
	return true
}

type validateLicenseRequest struct {
	LicenseKey     string `json:"license_key"`
	DeviceID       string `json:"device_id"`
	UpdateLastSeen *bool  `json:"update_last_seen,omitempty"`
}

func (s *Server) ValidateLicense(c *gin.Context) {
	var req validateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if !s.allowLicenseKey(c, req.LicenseKey) {
		return
	}

	resp, err := s.licenseSvc.Validate(c.Request.Context(), subscriptiondomain.ValidateRequest{
		LicenseKey:     req.LicenseKey,
		DeviceID:       req.DeviceID,
		UpdateLastSeen: req.UpdateLastSeen,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type deactivateLicenseRequest struct {
	LicenseKey string `json:"license_key"`
	DeviceID   string `json:"device_id"`
}

func (s *Server) DeactivateLicense(c *gin.Context) {
	var req deactivateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	removed, err := s.licenseSvc.Deactivate(c.Request.Context(), req.LicenseKey, req.DeviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deactivated": removed}})
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyLicenseToken lets a client check a cached offline token without
// touching subscription state.
func (s *Server) VerifyLicenseToken(c *gin.Context) {
	var req verifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, newValidationError("token", "invalid_token", "token is required"))
		return
	}

	result := s.authority.Verify(strings.TrimSpace(req.Token))
	if !result.Valid {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"valid":  false,
			"reason": result.Reason,
		}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"valid":           true,
		"subscription_id": result.Claims.SubscriptionID,
		"device_id":       result.Claims.DeviceID,
		"tier":            result.Claims.Tier,
		"features":        result.Claims.Features,
		"expires_at":      result.Claims.ExpiresAt,
	}})
}
