package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/octahive/octabot/internal/auth"
	"github.com/octahive/octabot/internal/db"
	apierrors "github.com/octahive/octabot/internal/errors"
	"github.com/octahive/octabot/internal/models"
)

// listProjects returns the caller's own projects; an admin sees the same
// scoping, since cross-user project listing has no endpoint of its own.
func (h *handlers) listProjects(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	projects, err := h.deps.Projects.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (h *handlers) createProject(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithError(c, apierrors.ValidationFailed(err.Error()))
		return
	}

	userID, _ := auth.GetUserID(c)
	project, err := h.deps.Projects.Create(c.Request.Context(), req, userID)
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusCreated, project)
}

// loadOwnedProject fetches a project by id and enforces that the caller is
// either its owner or an admin, writing the appropriate error response and
// returning ok=false if not.
func (h *handlers) loadOwnedProject(c *gin.Context) (*models.Project, bool) {
	project, err := h.deps.Projects.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrProjectNotFound) {
		apierrors.AbortWithError(c, apierrors.NotFound("project"))
		return nil, false
	}
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return nil, false
	}

	userID, _ := auth.GetUserID(c)
	if !auth.IsAdmin(c) && project.OwnerID != userID {
		apierrors.AbortWithError(c, apierrors.Forbidden("not authorized for this project"))
		return nil, false
	}
	return project, true
}

func (h *handlers) getProject(c *gin.Context) {
	project, ok := h.loadOwnedProject(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *handlers) updateProject(c *gin.Context) {
	if _, ok := h.loadOwnedProject(c); !ok {
		return
	}

	var req models.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithError(c, apierrors.ValidationFailed(err.Error()))
		return
	}

	project, err := h.deps.Projects.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *handlers) deleteProject(c *gin.Context) {
	if _, ok := h.loadOwnedProject(c); !ok {
		return
	}

	if err := h.deps.Projects.Delete(c.Request.Context(), c.Param("id")); err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}
