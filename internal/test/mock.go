// Mock methods required in Deewan realtime tests are all here.

package test

import (
	"Deewan/pkg/log"
	"Deewan/pkg/middlewares"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
)

// Global instance of gin MockRouter to be used during API testing.
var testRouter *gin.Engine

// Singleton to make sure testRouter is initialized only once.
var once sync.Once

func MockRouter(logger log.Logger) *gin.Engine {
	once.Do(func() {
		// Initializing the gin test server
		ginMode := os.Getenv("GIN_MODE")
		if ginMode == "" {
			ginMode = gin.TestMode
		}
		gin.SetMode(ginMode)
		testRouter = gin.New()
		testRouter.Use(log.LoggerGinExtension(logger))
		testRouter.Use(middlewares.CORSMiddleware("*")) // CORS middleware which allows request from all origin
	})
	return testRouter
}
