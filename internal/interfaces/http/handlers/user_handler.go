package handlers

import (
	"context"
	"net/http"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/interfaces/http/response"
	"circlesave.backend/internal/usecases"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type userService interface {
	GetMe(ctx context.Context, userID uuid.UUID) (*entities.User, error)
	LinkWallet(ctx context.Context, userID uuid.UUID, input *entities.LinkWalletInput) (*entities.User, error)
}

// UserHandler handles account endpoints
type UserHandler struct {
	userUsecase userService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userUsecase *usecases.UserUsecase) *UserHandler {
	return &UserHandler{userUsecase: userUsecase}
}

// GetMe returns the caller's profile
// GET /api/v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	user, err := h.userUsecase.GetMe(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": user})
}

// LinkWallet links a wallet address to the caller
// PUT /api/v1/users/wallet
func (h *UserHandler) LinkWallet(c *gin.Context) {
	var input entities.LinkWalletInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	user, err := h.userUsecase.LinkWallet(c.Request.Context(), userID, &input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Wallet linked successfully",
		"user":    user,
	})
}
