package relay

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/confsync/confsync/internal/relay/api"
	"github.com/confsync/confsync/internal/relay/auth"
)

type AuthHandler struct {
	auth *auth.Service
}

func NewAuthHandler(authSvc *auth.Service) *AuthHandler {
	return &AuthHandler{auth: authSvc}
}

// OTPRequest asks for a verification code to be mailed to the user.
type OTPRequest struct {
	Email string `json:"email" binding:"required"`
}

// OTPVerifyRequest trades a verification code for a token pair.
type OTPVerifyRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// RefreshRequest trades a refresh token for a fresh token pair.
type RefreshRequest struct {
	OldRefreshToken string `json:"refreshToken" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) OTPRequest(ctx *gin.Context) {
	var req OTPRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	if err := h.auth.SendOTP(ctx, req.Email); err != nil {
		if errors.Is(err, auth.ErrInvalidEmail) {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeAuthNotificationFailed, err)
		}
		return
	}

	ctx.String(http.StatusOK, "")
}

func (h *AuthHandler) OTPVerify(ctx *gin.Context) {
	var req OTPVerifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	accessToken, refreshToken, err := h.auth.GenerateTokensPair(ctx, req.Email, req.Code)
	if err != nil {
		api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthOTPVerificationFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req RefreshRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	accessToken, refreshToken, err := h.auth.RefreshToken(ctx, req.OldRefreshToken)
	if err != nil {
		api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthTokenRefreshFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}
