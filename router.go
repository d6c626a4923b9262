package main

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/arunvm123/voyagecache/auth"
)

func SetupRouter(handler *VoyageHandler, jwtService *auth.JWTService, logger *slog.Logger) *gin.Engine {
	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(LoggingMiddleware(logger))

	// Health check endpoint (no auth required)
	r.GET("/health", handler.HealthCheck)

	// API routes
	api := r.Group("/api")
	api.Use(AuthMiddleware(jwtService))

	// Voyage endpoints
	api.GET("/voyage", handler.GetVoyage)
	api.POST("/voyage/refresh", handler.RefreshVoyage)
	api.DELETE("/voyage/cache", handler.ClearCache)
	api.GET("/voyage/state", handler.GetState)
	api.GET("/voyage/stream", handler.StreamState)

	return r
}
