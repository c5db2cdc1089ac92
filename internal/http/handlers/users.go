package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// UserService is the admin surface of auth.Manager. Every call carries the
// acting user; permission checks happen there, not here.
type UserService interface {
	ListUsersPage(ctx context.Context, actorID, cursor string, limit int) (auth.UserPage, error)
	CreateUser(ctx context.Context, actorID string, req user.CreateUserRequest) (user.User, error)
	GetUser(ctx context.Context, actorID, id string) (user.User, error)
	UpdateUser(ctx context.Context, actorID, id string, req user.UpdateUserRequest) (user.User, error)
	DeleteUser(ctx context.Context, actorID, id string) error
	UnlockUser(ctx context.Context, actorID, id string) (user.User, error)
}

type UsersHandler struct {
	svc UserService
}

func NewUsersHandler(svc UserService) *UsersHandler {
	return &UsersHandler{svc: svc}
}

func (h *UsersHandler) List(ctx *gin.Context) {
	actorID, _ := middlewares.UserIDFromContext(ctx)

	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondBadRequest(ctx, "Invalid limit", gin.H{"limit": "must be a positive integer"})
			return
		}
		limit = n
	}

	page, err := h.svc.ListUsersPage(ctx.Request.Context(), actorID, ctx.Query("cursor"), limit)
	if err != nil {
		RespondAuthError(ctx, err, "Could not list users")
		return
	}

	ctx.JSON(http.StatusOK, page)
}

func (h *UsersHandler) Create(ctx *gin.Context) {
	var req user.CreateUserRequest
	if !BindJSON(ctx, &req) {
		return
	}

	actorID, _ := middlewares.UserIDFromContext(ctx)

	u, err := h.svc.CreateUser(ctx.Request.Context(), actorID, req)
	if err != nil {
		RespondAuthError(ctx, err, "Could not create user")
		return
	}

	ctx.Header("Location", "/users/"+u.ID)
	ctx.JSON(http.StatusCreated, u)
}

func (h *UsersHandler) Get(ctx *gin.Context) {
	actorID, _ := middlewares.UserIDFromContext(ctx)

	u, err := h.svc.GetUser(ctx.Request.Context(), actorID, ctx.Param("id"))
	if err != nil {
		RespondAuthError(ctx, err, "Could not load user")
		return
	}
	ctx.JSON(http.StatusOK, u)
}

func (h *UsersHandler) Update(ctx *gin.Context) {
	var req user.UpdateUserRequest
	if !BindJSON(ctx, &req) {
		return
	}

	actorID, _ := middlewares.UserIDFromContext(ctx)

	u, err := h.svc.UpdateUser(ctx.Request.Context(), actorID, ctx.Param("id"), req)
	if err != nil {
		RespondAuthError(ctx, err, "Could not update user")
		return
	}
	ctx.JSON(http.StatusOK, u)
}

func (h *UsersHandler) Delete(ctx *gin.Context) {
	actorID, _ := middlewares.UserIDFromContext(ctx)

	if err := h.svc.DeleteUser(ctx.Request.Context(), actorID, ctx.Param("id")); err != nil {
		RespondAuthError(ctx, err, "Could not delete user")
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *UsersHandler) Unlock(ctx *gin.Context) {
	actorID, _ := middlewares.UserIDFromContext(ctx)

	u, err := h.svc.UnlockUser(ctx.Request.Context(), actorID, ctx.Param("id"))
	if err != nil {
		RespondAuthError(ctx, err, "Could not unlock user")
		return
	}
	ctx.JSON(http.StatusOK, u)
}
