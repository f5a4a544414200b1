package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/octahive/octabot/internal/db"
	apierrors "github.com/octahive/octabot/internal/errors"
	"github.com/octahive/octabot/internal/models"
)

func (h *handlers) listUsers(c *gin.Context) {
	users, err := h.deps.Users.List(c.Request.Context())
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *handlers) createUser(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithError(c, apierrors.ValidationFailed(err.Error()))
		return
	}

	user, err := h.deps.Users.Create(c.Request.Context(), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *handlers) getUser(c *gin.Context) {
	user, err := h.deps.Users.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrUserNotFound) {
		apierrors.AbortWithError(c, apierrors.NotFound("user"))
		return
	}
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *handlers) updateUser(c *gin.Context) {
	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithError(c, apierrors.ValidationFailed(err.Error()))
		return
	}

	user, err := h.deps.Users.Update(c.Request.Context(), c.Param("id"), req)
	if errors.Is(err, db.ErrUserNotFound) {
		apierrors.AbortWithError(c, apierrors.NotFound("user"))
		return
	}
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *handlers) deleteUser(c *gin.Context) {
	err := h.deps.Users.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrUserNotFound) {
		apierrors.AbortWithError(c, apierrors.NotFound("user"))
		return
	}
	if err != nil {
		apierrors.AbortWithError(c, apierrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}
