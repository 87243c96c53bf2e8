package handlers

import (
	"context"
	"net/http"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/interfaces/http/response"
	"circlesave.backend/internal/usecases"
	"circlesave.backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type withdrawalService interface {
	ConfirmWithdrawal(ctx context.Context, userID, withdrawalID uuid.UUID, req *entities.ConfirmWithdrawalRequest) (*entities.WithdrawalView, error)
	ListMyWithdrawals(ctx context.Context, userID uuid.UUID, circleID *uuid.UUID, page utils.PaginationParams) ([]*entities.WithdrawalView, error)
}

// WithdrawalHandler handles the payout side of withdrawals
type WithdrawalHandler struct {
	withdrawalUsecase withdrawalService
}

// NewWithdrawalHandler creates a new withdrawal handler
func NewWithdrawalHandler(circleUsecase *usecases.CircleUsecase) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawalUsecase: circleUsecase}
}

// ListCircleWithdrawals lists the caller's withdrawals in one circle
// GET /api/v1/circles/:id/withdrawals
func (h *WithdrawalHandler) ListCircleWithdrawals(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	circleID, ok := pathID(c, "circle")
	if !ok {
		return
	}
	h.list(c, userID, &circleID)
}

// ListWithdrawals lists the caller's withdrawals across circles
// GET /api/v1/withdrawals
func (h *WithdrawalHandler) ListWithdrawals(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	h.list(c, userID, nil)
}

func (h *WithdrawalHandler) list(c *gin.Context, userID uuid.UUID, circleID *uuid.UUID) {
	withdrawals, err := h.withdrawalUsecase.ListMyWithdrawals(c.Request.Context(), userID, circleID, pagination(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if withdrawals == nil {
		withdrawals = []*entities.WithdrawalView{}
	}

	response.Success(c, http.StatusOK, gin.H{"withdrawals": withdrawals})
}

// ConfirmWithdrawal attaches the payout hash to a pending withdrawal
// POST /api/v1/withdrawals/:id/confirm
func (h *WithdrawalHandler) ConfirmWithdrawal(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	withdrawalID, ok := pathID(c, "withdrawal")
	if !ok {
		return
	}

	var req entities.ConfirmWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	withdrawal, err := h.withdrawalUsecase.ConfirmWithdrawal(c.Request.Context(), userID, withdrawalID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"withdrawal": withdrawal})
}
