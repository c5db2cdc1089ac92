package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/http/middlewares"
	"github.com/geocoder89/authcore/internal/session"
	"github.com/gin-gonic/gin"
)

var nowFunc = time.Now

// AuthService is the slice of auth.Manager the HTTP layer uses.
type AuthService interface {
	Register(ctx context.Context, req user.RegisterRequest) (user.User, error)
	Login(ctx context.Context, creds auth.Credentials) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.LoginResult, error)
	VerifyToken(ctx context.Context, token string) (*auth.Claims, error)
	GetUser(ctx context.Context, actorID, id string) (user.User, error)
	Sessions(ctx context.Context, userID string) ([]session.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
	ChangePassword(ctx context.Context, req auth.PasswordChange) error
	EnrollTwoFactor(ctx context.Context, userID string) (auth.TwoFactorEnrollment, error)
	ConfirmTwoFactor(ctx context.Context, userID, code string) error
	DisableTwoFactor(ctx context.Context, userID, password string) error
}

// CookieConfig controls the HttpOnly refresh cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
}

type AuthHandler struct {
	svc    AuthService
	cookie CookieConfig
}

func NewAuthHandler(svc AuthService, cookie CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refresh_token"
	}
	if cookie.Path == "" {
		cookie.Path = "/auth"
	}
	return &AuthHandler{svc: svc, cookie: cookie}
}

type LoginRequest struct {
	Email         string `json:"email" binding:"required,email"`
	Password      string `json:"password" binding:"required"`
	TwoFactorCode string `json:"twoFactorCode" binding:"omitempty,len=6,numeric"`
	RememberMe    bool   `json:"rememberMe"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type VerifyRequest struct {
	Token string `json:"token" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8"`
}

type TwoFactorCodeRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

type PasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// LoginResponse is shared by login and refresh.
type LoginResponse struct {
	Success           bool          `json:"success"`
	User              *user.User    `json:"user,omitempty"`
	Session           *session.View `json:"session,omitempty"`
	AccessToken       string        `json:"accessToken,omitempty"`
	RefreshToken      string        `json:"refreshToken,omitempty"`
	ExpiresAt         *time.Time    `json:"expiresAt,omitempty"`
	RequiresTwoFactor bool          `json:"requiresTwoFactor,omitempty"`
	Error             *APIError     `json:"error,omitempty"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest
	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.svc.Register(ctx.Request.Context(), req)
	if err != nil {
		RespondAuthError(ctx, err, "Could not create user")
		return
	}

	ctx.JSON(http.StatusCreated, u)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if !BindJSON(ctx, &req) {
		return
	}

	// the manager bounds the wait with its own login timeout
	res, err := h.svc.Login(ctx.Request.Context(), auth.Credentials{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		RememberMe:    req.RememberMe,
	})
	if err != nil {
		status, apiErr := authErrorStatus(ctx, err, "Could not log in")
		ctx.JSON(status, LoginResponse{
			Success:           false,
			RequiresTwoFactor: errors.Is(err, auth.ErrTwoFactorRequired),
			Error:             &apiErr,
		})
		return
	}

	h.setRefreshCookie(ctx, res.RefreshToken, res.Session.ExpiresAt)
	ctx.JSON(http.StatusOK, loginResponse(res))
}

// Refresh takes the refresh token from the body, or the cookie set at login.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req RefreshRequest
	if ctx.Request.ContentLength != 0 {
		if !BindJSON(ctx, &req) {
			return
		}
	}

	raw := req.RefreshToken
	if raw == "" {
		raw, _ = ctx.Cookie(h.cookie.Name)
	}
	if raw == "" {
		RespondUnAuthorized(ctx, string(auth.CodeTokenInvalid), "Missing refresh token")
		return
	}

	res, err := h.svc.Refresh(ctx.Request.Context(), raw)
	if err != nil {
		if auth.IsExpected(err) {
			h.clearRefreshCookie(ctx)
		}
		RespondAuthError(ctx, err, "Could not refresh session")
		return
	}

	h.setRefreshCookie(ctx, res.RefreshToken, res.Session.ExpiresAt)
	ctx.JSON(http.StatusOK, loginResponse(res))
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	sessionID, _ := middlewares.SessionIDFromContext(ctx)

	if err := h.svc.Logout(ctx.Request.Context(), sessionID); err != nil {
		RespondInternal(ctx, "Could not log out")
		return
	}

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

func (h *AuthHandler) LogoutAll(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	n, err := h.svc.LogoutAll(ctx.Request.Context(), userID)
	if err != nil {
		RespondInternal(ctx, "Could not log out")
		return
	}

	h.clearRefreshCookie(ctx)
	ctx.JSON(http.StatusOK, gin.H{"revoked": n})
}

// Verify always answers 200; validity is in the body.
func (h *AuthHandler) Verify(ctx *gin.Context) {
	var req VerifyRequest
	if !BindJSON(ctx, &req) {
		return
	}

	claims, err := h.svc.VerifyToken(ctx.Request.Context(), req.Token)
	if err != nil {
		code, ok := auth.CodeOf(err)
		if !ok {
			RespondInternal(ctx, "Could not verify token")
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": newAPIError(ctx, string(code), err.Error(), nil),
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"valid":   true,
		"payload": claims,
	})
}

func (h *AuthHandler) Me(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	u, err := h.svc.GetUser(ctx.Request.Context(), userID, userID)
	if err != nil {
		RespondAuthError(ctx, err, "Could not load user")
		return
	}
	ctx.JSON(http.StatusOK, u)
}

func (h *AuthHandler) Sessions(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)
	current, _ := middlewares.SessionIDFromContext(ctx)

	list, err := h.svc.Sessions(ctx.Request.Context(), userID)
	if err != nil {
		RespondInternal(ctx, "Could not list sessions")
		return
	}

	out := make([]session.View, len(list))
	for i, s := range list {
		out[i] = s.View()
		out[i].Current = s.ID == current
	}
	ctx.JSON(http.StatusOK, gin.H{"items": out})
}

func (h *AuthHandler) RevokeSession(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	if err := h.svc.RevokeSession(ctx.Request.Context(), userID, ctx.Param("id")); err != nil {
		RespondAuthError(ctx, err, "Could not revoke session")
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *AuthHandler) ChangePassword(ctx *gin.Context) {
	var req ChangePasswordRequest
	if !BindJSON(ctx, &req) {
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)
	sessionID, _ := middlewares.SessionIDFromContext(ctx)

	err := h.svc.ChangePassword(ctx.Request.Context(), auth.PasswordChange{
		UserID:        userID,
		Current:       req.CurrentPassword,
		New:           req.NewPassword,
		KeepSessionID: sessionID,
	})
	if err != nil {
		RespondAuthError(ctx, err, "Could not change password")
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *AuthHandler) EnrollTwoFactor(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	enrollment, err := h.svc.EnrollTwoFactor(ctx.Request.Context(), userID)
	if err != nil {
		RespondAuthError(ctx, err, "Could not start two-factor enrollment")
		return
	}
	ctx.JSON(http.StatusOK, enrollment)
}

func (h *AuthHandler) ConfirmTwoFactor(ctx *gin.Context) {
	var req TwoFactorCodeRequest
	if !BindJSON(ctx, &req) {
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)
	if err := h.svc.ConfirmTwoFactor(ctx.Request.Context(), userID, req.Code); err != nil {
		RespondAuthError(ctx, err, "Could not enable two-factor")
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *AuthHandler) DisableTwoFactor(ctx *gin.Context) {
	var req PasswordRequest
	if !BindJSON(ctx, &req) {
		return
	}

	userID, _ := middlewares.UserIDFromContext(ctx)
	if err := h.svc.DisableTwoFactor(ctx.Request.Context(), userID, req.Password); err != nil {
		RespondAuthError(ctx, err, "Could not disable two-factor")
		return
	}
	ctx.Status(http.StatusNoContent)
}

// Helper functions

func loginResponse(res *auth.LoginResult) LoginResponse {
	u := res.User
	view := res.Session.View()
	exp := res.ExpiresAt

	return LoginResponse{
		Success:      true,
		User:         &u,
		Session:      &view,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    &exp,
	}
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(nowFunc()).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		h.cookie.Name,
		raw,
		maxAge,
		h.cookie.Path,
		"",
		h.cookie.Secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.cookie.Name,
		"",
		-1,
		h.cookie.Path,
		"",
		h.cookie.Secure,
		true,
	)
}
