// List of all API endpoints being used by Deewan realtime can be found here.

package main

import (
	"Deewan/internal/realtime"
	"Deewan/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func Router(router *gin.Engine, realtimeService realtime.Service, hub *realtime.Hub, allowedOrigins []string, logger log.Logger) {
	// This is the route to default path
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Welcome to Deewan realtime!")
	})

	// Register internal package realtime handlers
	realtime.APIHandlers(router, realtimeService, hub, allowedOrigins, logger)
}
