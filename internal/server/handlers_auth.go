package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tonimelisma/filesync-core/internal/auth"
	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	user := &repository.User{
		UserID: uuid.New().String(), Username: req.Username, Email: req.Email,
		AccountStatus: "ACTIVE",
	}

	if err := s.authSvc.Register(c.Request.Context(), user, req.Password); err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user_id": user.UserID, "username": user.Username})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	pair, user, err := s.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse(pair, user.UserID))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	pair, err := s.authSvc.Refresh(req.RefreshToken)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse(pair, ""))
}

// handleLogout is a no-op acknowledgement: tokens are stateless JWTs with no
// server-side session to invalidate (spec.md §6 lists the route; revocation
// lists are out of scope per the Non-goals).
func (s *Server) handleLogout(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func tokenResponse(pair *auth.TokenPair, userID string) wire.TokenResponseDTO {
	return wire.TokenResponseDTO{
		AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken,
		TokenType: "Bearer", ExpiresIn: pair.ExpiresIn, UserID: userID,
	}
}
