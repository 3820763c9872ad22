// The main file of Deewan's realtime server.

package main

import (
	"Deewan/internal/config"
	"Deewan/internal/realtime"
	"Deewan/pkg/cleanup"
	"Deewan/pkg/db"
	"Deewan/pkg/log"
	"Deewan/pkg/logger"
	"Deewan/pkg/middlewares"
	"Deewan/pkg/validations"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	// Indicates the current version of Deewan realtime.
	Version = "1.0.0"
	// Address and Port to be used by gin.
	srvaddr, srvport string
	// Origin allowed to reach the websocket and REST endpoints.
	clientaddr string
)

// Fixed dashboard address used in the DEV environment.
const devClientAddr = "http://localhost:5173"

func init() {
	if len(os.Getenv("ENV")) == 0 {
		// Fall back to the dev env file when no environment is injected
		config.LoadDevConfig()
	}
	logger.Setup(os.Getenv("ENV"))

	logger.Logger.Info().Msg(fmt.Sprintf("Welcome to Deewan realtime: v%s", Version))
	logger.Logger.Info().Msg(fmt.Sprintf("Deewan Environment: %s", os.Getenv("ENV")))

	// Fetching addr and port depending upon env flag.
	srvaddr, srvport = os.Getenv("SRV_ADDR"), os.Getenv("SRV_PORT")
	// Dev builds talk to the fixed local dashboard, everything else is configured.
	if os.Getenv("ENV") == "DEV" {
		clientaddr = devClientAddr
		gin.SetMode(gin.DebugMode)
	} else {
		clientaddr = os.Getenv("CLIENT_ADDR")
		gin.SetMode(gin.ReleaseMode)
	}
}

func main() {
	ctx := context.Background()
	dlogger := log.New(Version)

	// Initializing the Redis client used as the presence mirror.
	dbConnWrp := db.NewDbConnection(ctx, dlogger)
	// Sending a PING request to DB for connection status check.
	dbConnWrp.CheckDbConnection(ctx, dlogger)

	// Adding custom validation tags into ext-package govalidator.
	validations.RegisterCustomValidations(ctx, dlogger)
	realtime.RegisterCustomValidationTags(ctx, dlogger)

	// Initializing the gin server.
	server := gin.New()

	// Forcing gin to use custom Logger instead of the default one.
	server.Use(logger.LoggerGinExtension(&logger.Logger))
	server.Use(gin.Recovery())
	server.Use(middlewares.CORSMiddleware(clientaddr))
	server.Use(middlewares.CorrelationMiddleware(dlogger))

	// Wiring the realtime layer: hub event loop, presence repository, dispatch service.
	hub := realtime.NewHub(dlogger)
	realtimeRepo := realtime.NewRepository(dbConnWrp)
	realtimeService := realtime.NewService(hub, realtimeRepo, dlogger)
	go hub.Run()

	// Running Router() which routes all of the API groups and paths.
	Router(server, realtimeService, hub, []string{clientaddr}, dlogger)

	// Running the server with defined addr and port.
	srv := &http.Server{
		Addr:    srvaddr + ":" + srvport,
		Handler: server,
	}

	// ListenAndServe is a blocking operation, putting it a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Logger.Fatal().Err(err).Msg("Error in ListenAndServe()")
		}
	}()

	// Graceful shutdown of the Deewan realtime server triggered due to system interruptions.
	wait := cleanup.GracefulShutdown(ctx, dlogger, 5*time.Second, map[string]cleanup.Operation{
		"Realtime-hub": hub.Close,
		"Redis-server": func(ctx context.Context) error {
			return dbConnWrp.CloseDbConnection(ctx)
		},
		"Gin": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	<-wait
}
