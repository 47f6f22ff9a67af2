package controller

import (
	"net/http"

	"snapshot-service/controller/handler"
	"snapshot-service/controller/respond"
	"snapshot-service/service/auth_service"
	"snapshot-service/service/snapshot_service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RouterOptions services and settings the router is built from
type RouterOptions struct {
	SnapshotService   *snapshot_service.SnapshotService
	AuthService       *auth_service.AuthService
	DefaultExpiryDays int
	PathPrefix        string
	// BlobEndpoint registers PUT /blob/:ticket for the local object store
	BlobEndpoint bool
}

// SetupRouter setup snapshot service router
func SetupRouter(opts RouterOptions) *gin.Engine {
	// Create Gin engine
	r := gin.Default()

	// Add CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH", "HEAD"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Accept", "Cache-Control", "X-Requested-With", "X-API-Key", "X-Snapshot-Password"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "ETag"},
		AllowCredentials: true,
		MaxAge:           12 * 3600, // 12 hours
	}))

	// Add timing middleware
	r.Use(respond.TimingMiddleware())

	// Create handlers
	authHandler := handler.NewAuthHandler(opts.AuthService)
	snapshotHandler := handler.NewSnapshotHandler(opts.SnapshotService, opts.DefaultExpiryDays)
	serveHandler := handler.NewServeHandler(opts.SnapshotService, opts.PathPrefix)

	// API v1 route group
	v1 := r.Group("/api/v1")
	{
		v1.GET("/config", snapshotHandler.GetConfig)
		v1.POST("/auth/token", authHandler.IssueToken)

		snapshots := v1.Group("/snapshots", authHandler.RequireBearer())
		{
			snapshots.POST("", snapshotHandler.OpenSession)
			snapshots.GET("/:id", snapshotHandler.GetSession)
			snapshots.POST("/:id/destinations", snapshotHandler.GetUploadDestination)
			snapshots.PUT("/:id/files/*path", snapshotHandler.UploadFile)
			snapshots.POST("/:id/finalize", snapshotHandler.Finalize)
			snapshots.GET("/:id/archive", snapshotHandler.DownloadArchive)
		}
	}

	if opts.BlobEndpoint {
		blobHandler := handler.NewBlobHandler(opts.AuthService, opts.SnapshotService)
		r.PUT("/blob/:ticket", blobHandler.PutBlob)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, respond.HealthResponse{
			Status:  "ok",
			Service: "snapshot",
			Stats:   opts.SnapshotService.Stats(),
		})
	})

	// Published snapshots: /s/{id}/index.html and every static asset below it
	r.GET("/s/:id/*filepath", serveHandler.ServeSnapshotFiles)
	r.GET("/s/:id", serveHandler.ServeSnapshotFiles)

	return r
}
