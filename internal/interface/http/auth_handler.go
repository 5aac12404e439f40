package httpapi

import (
	"log"
	"net/http"
	"time"

	appauth "infodigest/internal/application/auth"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body", "error_code": errCodeBadRequest})
		return
	}

	res, err := s.loginUC.Execute(c.Request.Context(), appauth.LoginInput{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		log.Printf("[Auth] login failure for %s: %v", body.Email, err)
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid email or password", "error_code": errCodeInvalidCredentials})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"id":    res.User.ID,
			"email": res.User.Email,
			"name":  res.User.Name,
			"role":  res.User.Role,
		},
		"access_token": res.Token.Token,
		"token_type":   "Bearer",
		"expiry":       res.Token.ExpiresAt.Format(time.RFC3339),
	})
}
