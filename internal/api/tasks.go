package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/octahive/octabot/internal/clock"
	"github.com/octahive/octabot/internal/db"
	apierrors "github.com/octahive/octabot/internal/errors"
	"github.com/octahive/octabot/internal/models"
)

func (h *handlers) listTasks(c *gin.Context) {
	filter := models.TaskFilter{
		ProjectID: c.Query("project_id"),
		Status:    c.Query("status"),
		Kind:      c.Query("type"),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
		filter.Offset = offset
	}

	tasks, err := h.deps.Tasks.ListTasks(c.Request.Context(), filter)
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// createTask validates schedule with the same cron dialect as C1 and
// rejects it before the task row is ever inserted, per §4.8.
func (h *handlers) createTask(c *gin.Context) {
	var req models.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithError(c, apierrors.ValidationFailed(err.Error()))
		return
	}

	if req.Schedule != nil {
		if err := clock.ValidateCron(*req.Schedule); err != nil {
			apierrors.AbortWithError(c, apierrors.NewWithDetails(
				apierrors.ErrCodeValidationFailed, "invalid cron schedule", err.Error()))
			return
		}
	}

	task, err := h.deps.Tasks.UpsertTask(c.Request.Context(), models.TaskSpec{
		Name:      req.Name,
		Kind:      req.Kind,
		ProjectID: req.ProjectID,
		Schedule:  req.Schedule,
		StartAt:   req.StartAt,
		Options:   req.Options,
	})
	if errors.Is(err, db.ErrTaskConflict) {
		apierrors.AbortWithError(c, apierrors.Conflict("task conflicts with an existing external id"))
		return
	}
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *handlers) getTask(c *gin.Context) {
	task, err := h.deps.Tasks.GetTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrTaskNotFound) {
		apierrors.AbortWithError(c, apierrors.NotFound("task"))
		return
	}
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTask(c *gin.Context) {
	err := h.deps.Tasks.DeleteTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrTaskNotFound) {
		apierrors.AbortWithError(c, apierrors.NotFound("task"))
		return
	}
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}
