package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geovision/geovision-backend/internal/handler"
	"github.com/geovision/geovision-backend/internal/middleware"
)

// SetupRouter wires middleware and routes around the analysis handler.
func SetupRouter(h *handler.AnalysisHandler) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger(), gin.Recovery())

	// CORS: the map frontend runs on another origin.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Submissions burn provider quota; polling does not, so only the
	// submitting endpoints sit behind the limiter.
	submitLimit := middleware.RateLimit(30, time.Minute)
	r.POST("/analyze", submitLimit, h.Analyze)
	r.POST("/generate-ai-response/", submitLimit, h.GenerateAIResponse)
	r.GET("/results/:task_id", h.GetResult)

	return r
}
