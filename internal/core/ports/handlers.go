package ports

import (
	"github.com/gin-gonic/gin"
)

// ControlHandler serves the control API over HTTP.
type ControlHandler interface {
	SetupRoutes(router gin.IRouter, middleware ...gin.HandlerFunc)
	CreateRoom(c *gin.Context)
	ApplyRoom(c *gin.Context)
	CreateMember(c *gin.Context)
	CreateEndpoint(c *gin.Context)
	Delete(c *gin.Context)
	DeleteMany(c *gin.Context)
	Get(c *gin.Context)
	GetMany(c *gin.Context)
}

// SignalHandler accepts client WebSocket sessions.
type SignalHandler interface {
	RegisterRoutes(router gin.IRouter)
	HandleWebSocket(c *gin.Context)
}
