package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/octahive/octabot/internal/db"
	apierrors "github.com/octahive/octabot/internal/errors"
	"github.com/octahive/octabot/internal/models"
)

// login verifies username/password against the bcrypt hash stored on the
// user row and, on success, issues a signed JWT carrying the user's id,
// username and role.
func (h *handlers) login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithError(c, apierrors.BadRequest("invalid request body"))
		return
	}

	user, err := h.deps.Users.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		apierrors.AbortWithError(c, apierrors.InvalidCredentials())
		return
	}

	if err := db.VerifyPassword(user, req.Password); err != nil {
		apierrors.AbortWithError(c, apierrors.InvalidCredentials())
		return
	}

	token, err := h.deps.JWT.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		apierrors.AbortWithError(c, apierrors.InternalServer("failed to issue token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}
