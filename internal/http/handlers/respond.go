package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get(middlewares.CtxRequestID)

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func newAPIError(ctx *gin.Context, code, message string, details interface{}) APIError {
	return APIError{
		Code:      code,
		Message:   message,
		RequestID: requestIDFrom(ctx),
		Details:   details,
	}
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": newAPIError(ctx, code, message, details),
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondUnAuthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

// statusFor maps an auth error code to its HTTP status.
func statusFor(code auth.Code) int {
	switch code {
	case auth.CodeInvalidCredentials, auth.CodeTwoFactorRequired, auth.CodeInvalidTwoFactorCode,
		auth.CodeTokenExpired, auth.CodeTokenInvalid, auth.CodeSessionExpired:
		return http.StatusUnauthorized
	case auth.CodeAccountLocked:
		return http.StatusLocked
	case auth.CodeAccountInactive, auth.CodeForbidden:
		return http.StatusForbidden
	case auth.CodeEmailAlreadyExists:
		return http.StatusConflict
	case auth.CodeUserNotFound:
		return http.StatusNotFound
	case auth.CodeWeakPassword, auth.CodeInvalidInput:
		return http.StatusBadRequest
	case auth.CodeRateLimited:
		return http.StatusTooManyRequests
	case auth.CodeLoginTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// authErrorStatus sets Retry-After where the error carries one and returns
// the status and body to send. Unexpected errors are logged and hidden.
func authErrorStatus(ctx *gin.Context, err error, fallback string) (int, APIError) {
	code, ok := auth.CodeOf(err)
	if !ok {
		slog.Default().ErrorContext(ctx.Request.Context(), fallback, "err", err, "request_id", requestIDFrom(ctx))
		return http.StatusInternalServerError, newAPIError(ctx, "internal_error", fallback, nil)
	}

	var locked *auth.LockedError
	if errors.As(err, &locked) {
		ctx.Header("Retry-After", strconv.Itoa(int(locked.Until.Sub(nowFunc()).Seconds())+1))
	}
	var limited *auth.RateLimitedError
	if errors.As(err, &limited) {
		ctx.Header("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())+1))
	}

	return statusFor(code), newAPIError(ctx, string(code), err.Error(), nil)
}

// RespondAuthError renders an auth error with its mapped status.
func RespondAuthError(ctx *gin.Context, err error, fallback string) {
	status, apiErr := authErrorStatus(ctx, err, fallback)
	ctx.JSON(status, gin.H{"error": apiErr})
}
