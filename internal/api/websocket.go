package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/octahive/octabot/internal/auth"
	"github.com/octahive/octabot/internal/db"
	apierrors "github.com/octahive/octabot/internal/errors"
	"github.com/octahive/octabot/internal/logger"
)

// upgrader allows any origin: the caller is already authenticated via the
// "token" query parameter checked by auth.Middleware before this handler
// ever runs.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWebSocket upgrades the connection and subscribes it to one
// project's hub broadcasts (chat.message action events), per §4.8's
// GET /api/v1/ws. Task lifecycle events are not sent on this feed.
func (h *handlers) serveWebSocket(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		apierrors.AbortWithError(c, apierrors.BadRequest("project_id query parameter required"))
		return
	}

	userID, _ := auth.GetUserID(c)
	if !auth.IsAdmin(c) {
		project, err := h.deps.Projects.Get(c.Request.Context(), projectID)
		if errors.Is(err, db.ErrProjectNotFound) {
			apierrors.AbortWithError(c, apierrors.NotFound("project"))
			return
		}
		if err != nil {
			apierrors.AbortWithError(c, apierrors.DatabaseError(err))
			return
		}
		if project.OwnerID != userID {
			apierrors.AbortWithError(c, apierrors.Forbidden("not authorized for this project"))
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.HTTP().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.deps.Hub.ServeClient(conn, uuid.NewString(), projectID, userID)
}
