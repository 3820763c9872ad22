// Exposes the websocket endpoint and the REST APIs related to the realtime layer in Deewan.

package realtime

import (
	"Deewan/internal/errors"
	"Deewan/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// Registers all of the handlers related to internal package realtime onto the gin server.
// allowedOrigins carries the same origin allowlist used by the companion REST APIs.
func APIHandlers(router *gin.Engine, service Service, hub *Hub, allowedOrigins []string, logger log.Logger) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	realtimeGroup := router.Group("/api/realtime")
	{
		realtimeGroup.GET("/ws", wshandler(service, hub, upgrader, logger))
		realtimeGroup.GET("/online", onlineUsersHandler(service, logger))
	}
}

// originChecker allows non-browser clients (no Origin header) and any origin
// present in the allowlist. A "*" entry disables the check, test use only.
func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

// wshandler upgrades the request into a websocket session and blocks on its
// read pump until the connection drops.
func wshandler(service Service, hub *Hub, upgrader websocket.Upgrader, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		conn, upgerr := upgrader.Upgrade(gctx.Writer, gctx.Request, nil)
		if upgerr != nil {
			// Upgrade already wrote the failure response
			logger.WithCtx(gctx).Warn().Err(upgerr).Msg("Websocket upgrade failed")
			return
		}
		session := NewSession(xid.New().String(), conn, hub, logger)
		hub.Register(session)
		go session.WritePump()
		session.ReadPump(gctx, service)
	}
}

// onlineUsersHandler returns the ids of currently online users from the
// presence mirror, for dashboards rendering presence without a socket.
func onlineUsersHandler(service Service, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		users, err := service.OnlineUsers(gctx)
		if err != nil {
			// Error occured, might be a DB issue
			err, ok := err.(errors.ErrorResponse)
			if !ok {
				// Type assertion error
				gctx.JSON(http.StatusInternalServerError, errors.InternalServerError(""))
				return
			}
			gctx.JSON(err.Status, err)
			return
		}
		gctx.JSON(http.StatusOK, gin.H{
			"online": users,
		})
	}
}
