package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges the bootstrap admin credentials for a dashboard
// access token. License endpoints never use these tokens.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	email := strings.TrimSpace(req.Email)
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	emailOK := subtle.ConstantTimeCompare([]byte(strings.ToLower(email)), []byte(strings.ToLower(s.cfg.AdminEmail))) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.AdminPassword)) == 1
	if !emailOK || !passwordOK {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	accessToken, err := s.accessTokens.Issue("admin", s.cfg.AdminEmail, "admin")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"access_token": accessToken,
		"token_type":   "bearer",
		"expires_in":   s.cfg.AccessTokenExpireMinutes * 60,
	}})
}
