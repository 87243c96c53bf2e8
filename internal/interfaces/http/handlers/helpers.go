package handlers

import (
	"strconv"

	"circlesave.backend/internal/domain/entities"
	domainerrors "circlesave.backend/internal/domain/errors"
	"circlesave.backend/internal/interfaces/http/middleware"
	"circlesave.backend/internal/interfaces/http/response"
	"circlesave.backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requireUser resolves the authenticated caller or writes a 401
func requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("User not authenticated"))
		return uuid.Nil, false
	}
	return userID, true
}

// pathID parses the :id path parameter or writes a 400
func pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, ok := utils.ParseUUID(c.Param("id"))
	if !ok {
		response.Error(c, domainerrors.BadRequest("Invalid "+what+" ID"))
		return uuid.Nil, false
	}
	return id, true
}

// parseStatusQuery reads ?status= as a numeric circle status. An empty
// value means no filter.
func parseStatusQuery(c *gin.Context) (*entities.CircleStatus, bool) {
	raw := c.Query("status")
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	status := entities.CircleStatus(n)
	if err != nil || !status.IsValid() {
		response.Error(c, domainerrors.BadRequest("status must be 0, 1 or 2"))
		return nil, false
	}
	return &status, true
}

func pagination(c *gin.Context) utils.PaginationParams {
	return utils.GetPaginationParams(c.Query("limit"), c.Query("offset"))
}
