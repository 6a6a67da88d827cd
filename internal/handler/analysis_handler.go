package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geovision/geovision-backend/internal/geometry"
	"github.com/geovision/geovision-backend/internal/imagery"
	"github.com/geovision/geovision-backend/internal/models"
	"github.com/geovision/geovision-backend/internal/service"
	"github.com/geovision/geovision-backend/pkg/response"
)

// AnalysisHandler handles HTTP requests for change analyses.
type AnalysisHandler struct {
	service *service.AnalysisService
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(s *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{service: s}
}

// bboxParam accepts both wire shapes: the GeoJSON-style array
// [west, south, east, north] and the object {north, south, east, west}.
type bboxParam struct {
	models.BoundingBox
}

func (b *bboxParam) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) != 4 {
			return fmt.Errorf("bbox array must be [west, south, east, north]")
		}
		b.West, b.South, b.East, b.North = arr[0], arr[1], arr[2], arr[3]
		return nil
	}
	return json.Unmarshal(data, &b.BoundingBox)
}

type analyzeRequest struct {
	BBox         bboxParam `json:"bbox"`
	FromDate     string    `json:"from_date" binding:"required"`
	ToDate       string    `json:"to_date" binding:"required"`
	AnalysisType string    `json:"analysis_type"`
}

// Analyze submits an analysis task.
// POST /analyze
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	id, err := h.service.Submit(&models.AnalysisRequest{
		BBox:         req.BBox.BoundingBox,
		FromDate:     req.FromDate,
		ToDate:       req.ToDate,
		AnalysisType: models.AnalysisType(req.AnalysisType),
	})
	if err != nil {
		var invalid *geometry.InvalidRequestError
		if errors.As(err, &invalid) {
			response.BadRequest(c, invalid.Reason)
			return
		}
		response.InternalError(c, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

// GetResult reports task state for the polling loop.
// GET /results/:task_id
func (h *AnalysisHandler) GetResult(c *gin.Context) {
	task, err := h.service.Poll(c.Param("task_id"))
	if err != nil {
		response.NotFound(c, "unknown task id")
		return
	}

	switch task.Status {
	case models.TaskStatusCompleted:
		c.JSON(http.StatusOK, gin.H{"status": task.Status, "result": task.Result})
	case models.TaskStatusFailed:
		c.JSON(http.StatusOK, gin.H{"status": task.Status, "error": task.Error})
	default:
		c.JSON(http.StatusOK, gin.H{"status": task.Status})
	}
}

type legacyRequest struct {
	BBox      models.BoundingBox `json:"bbox"`
	StartDate string             `json:"start_date" binding:"required"`
	EndDate   string             `json:"end_date" binding:"required"`
}

// GenerateAIResponse is the legacy blocking endpoint: same pipeline, same
// cache, answered in one round trip.
// POST /generate-ai-response/
func (h *AnalysisHandler) GenerateAIResponse(c *gin.Context) {
	var req legacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	res, cached, err := h.service.Analyze(c.Request.Context(), &models.AnalysisRequest{
		BBox:         req.BBox,
		FromDate:     req.StartDate,
		ToDate:       req.EndDate,
		AnalysisType: models.AnalysisNDVI,
	})
	if err != nil {
		var invalid *geometry.InvalidRequestError
		switch {
		case errors.As(err, &invalid):
			response.BadRequest(c, invalid.Reason)
		case errors.Is(err, imagery.ErrProviderUnavailable):
			response.ServiceUnavailable(c, err.Error())
		case errors.Is(err, imagery.ErrNoImagery):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, err.Error())
		}
		return
	}

	ai := res.Narration
	if ai == "" {
		ai = fmt.Sprintf("Mean %s changed from %.4f to %.4f (%.2f%%) between %s and %s.",
			res.AnalysisType, res.MeanIndexFrom, res.MeanIndexTo,
			res.ChangePercentage, res.FromDateStr, res.ToDateStr)
	}
	c.JSON(http.StatusOK, gin.H{
		"ai_response": ai,
		"image_url_1": res.ImageFrom,
		"image_url_2": res.ImageTo,
		"cached":      cached,
	})
}
