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

type circleService interface {
	SyncCircle(ctx context.Context, userID uuid.UUID, req *entities.CreateCircleRequest) (*entities.CircleView, error)
	ListCircles(ctx context.Context, userID uuid.UUID, status *entities.CircleStatus, page utils.PaginationParams) ([]*entities.CircleView, error)
	History(ctx context.Context, userID uuid.UUID) ([]*entities.CircleView, error)
	GetCircleDetail(ctx context.Context, userID, circleID uuid.UUID) (*entities.CircleDetail, error)
	JoinCircle(ctx context.Context, userID, circleID uuid.UUID, req *entities.JoinCircleRequest) (*entities.DepositView, error)
	Withdraw(ctx context.Context, userID, circleID uuid.UUID, req *entities.WithdrawRequest) (*entities.WithdrawalView, error)
	Activity(ctx context.Context, userID, circleID uuid.UUID) ([]*entities.ActivityView, error)
}

// CircleHandler handles circle endpoints
type CircleHandler struct {
	circleUsecase circleService
}

// NewCircleHandler creates a new circle handler
func NewCircleHandler(circleUsecase *usecases.CircleUsecase) *CircleHandler {
	return &CircleHandler{circleUsecase: circleUsecase}
}

// CreateCircle registers a circle already deployed on chain
// POST /api/v1/circles
func (h *CircleHandler) CreateCircle(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req entities.CreateCircleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	circle, err := h.circleUsecase.SyncCircle(c.Request.Context(), userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"circle": circle})
}

// ListCircles lists circles by status, or the caller's own circles
// GET /api/v1/circles?status=
func (h *CircleHandler) ListCircles(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	status, ok := parseStatusQuery(c)
	if !ok {
		return
	}

	circles, err := h.circleUsecase.ListCircles(c.Request.Context(), userID, status, pagination(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if circles == nil {
		circles = []*entities.CircleView{}
	}

	response.Success(c, http.StatusOK, gin.H{"circles": circles})
}

// History lists the closed circles of the caller
// GET /api/v1/circles/history
func (h *CircleHandler) History(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	circles, err := h.circleUsecase.History(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if circles == nil {
		circles = []*entities.CircleView{}
	}

	response.Success(c, http.StatusOK, gin.H{"circles": circles})
}

// GetCircle returns a circle with its members
// GET /api/v1/circles/:id
func (h *CircleHandler) GetCircle(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	circleID, ok := pathID(c, "circle")
	if !ok {
		return
	}

	detail, err := h.circleUsecase.GetCircleDetail(c.Request.Context(), userID, circleID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"circle": detail})
}

// JoinCircle records a deposit into the circle
// POST /api/v1/circles/:id/join
func (h *CircleHandler) JoinCircle(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	circleID, ok := pathID(c, "circle")
	if !ok {
		return
	}

	var req entities.JoinCircleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	deposit, err := h.circleUsecase.JoinCircle(c.Request.Context(), userID, circleID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"deposit": deposit})
}

// Withdraw reserves a payout from the circle
// POST /api/v1/circles/:id/withdraw
func (h *CircleHandler) Withdraw(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	circleID, ok := pathID(c, "circle")
	if !ok {
		return
	}

	var req entities.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	withdrawal, err := h.circleUsecase.Withdraw(c.Request.Context(), userID, circleID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"withdrawal": withdrawal})
}

// Activity lists the caller's ledger events in the circle
// GET /api/v1/circles/:id/activity
func (h *CircleHandler) Activity(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	circleID, ok := pathID(c, "circle")
	if !ok {
		return
	}

	events, err := h.circleUsecase.Activity(c.Request.Context(), userID, circleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if events == nil {
		events = []*entities.ActivityView{}
	}

	response.Success(c, http.StatusOK, gin.H{"activity": events})
}
