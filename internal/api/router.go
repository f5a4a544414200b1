// Package api wires the octabot HTTP/WebSocket surface (C8): a gin router
// exposing login, user/project/task CRUD, and a live task-event websocket
// feed, over the same stores and hub the engine itself uses.
//
// Handlers never return an error value; each one writes its own response or
// calls errors.AbortWithError directly, following the "abort immediately"
// usage shown in internal/errors's package doc.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/octahive/octabot/internal/auth"
	"github.com/octahive/octabot/internal/db"
	apierrors "github.com/octahive/octabot/internal/errors"
	"github.com/octahive/octabot/internal/middleware"
	wshub "github.com/octahive/octabot/internal/websocket"
)

// Deps collects the dependencies every route handler needs. All fields are
// required; NewRouter does not defend against a nil field since it is only
// ever called from cmd/octabot with a fully assembled Engine.
type Deps struct {
	Users    *db.UserStore
	Projects *db.ProjectStore
	Tasks    *db.TaskStore
	JWT      *auth.JWTManager
	Hub      *wshub.Hub
}

type handlers struct {
	deps Deps
}

// NewRouter builds the gin.Engine described by §4.8: request-id, panic
// recovery and structured access logging run for every request; JWT auth
// and role checks guard everything under /api/v1 except /auth/login.
func NewRouter(deps Deps) *gin.Engine {
	if gin.Mode() != gin.ReleaseMode && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(apierrors.Recovery())
	router.Use(middleware.StructuredLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{deps: deps}

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", h.login)

	protected := v1.Group("")
	protected.Use(auth.Middleware(deps.JWT, deps.Users))

	users := protected.Group("/users", auth.RequireRole("admin"))
	users.GET("", h.listUsers)
	users.POST("", h.createUser)
	users.GET("/:id", h.getUser)
	users.PATCH("/:id", h.updateUser)
	users.DELETE("/:id", h.deleteUser)

	projects := protected.Group("/projects")
	projects.GET("", h.listProjects)
	projects.POST("", h.createProject)
	projects.GET("/:id", h.getProject)
	projects.PATCH("/:id", h.updateProject)
	projects.DELETE("/:id", h.deleteProject)

	tasks := protected.Group("/tasks")
	tasks.GET("", h.listTasks)
	tasks.POST("", h.createTask)
	tasks.GET("/:id", h.getTask)
	tasks.DELETE("/:id", h.deleteTask)

	protected.GET("/ws", h.serveWebSocket)

	return router
}
