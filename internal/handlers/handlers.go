package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/retina-check/internal/auth"
	"github.com/example/retina-check/internal/imagestore"
	"github.com/example/retina-check/internal/report"
	"github.com/example/retina-check/internal/repository"
	"github.com/example/retina-check/internal/usecase"
)

// MaxUploadSize bounds a single image upload.
const MaxUploadSize = 10 << 20

// Service is the slice of the analysis use case the HTTP layer needs.
type Service interface {
	Analyze(ctx context.Context, userID, filename string, content io.Reader) (*usecase.AnalysisResult, error)
	GetRecord(ctx context.Context, userID string, id uint) (*repository.AnalysisRecord, error)
	History(ctx context.Context, userID string) ([]repository.AnalysisRecord, error)
	RecordReport(ctx context.Context, userID string, id uint) ([]byte, error)
	HistoryReport(ctx context.Context, userID string) ([]byte, error)
	GetSummary(ctx context.Context, userID string) (*usecase.HistorySummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything under
// /api runs behind the identity middleware.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", authMiddleware)
	api.POST("/analyses", func(c *gin.Context) { handleAnalyze(c, svc) })
	api.GET("/analyses", func(c *gin.Context) { handleHistory(c, svc) })
	api.GET("/analyses/:id", func(c *gin.Context) { handleGetRecord(c, svc) })
	api.GET("/summary", func(c *gin.Context) { handleSummary(c, svc) })
	api.GET("/reports", func(c *gin.Context) { handleHistoryReport(c, svc) })
	api.GET("/reports/:id", func(c *gin.Context) { handleRecordReport(c, svc) })
}

func handleAnalyze(c *gin.Context, svc Service) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open upload"})
		return
	}
	defer src.Close()

	result, err := svc.Analyze(c.Request.Context(), userID, file.Filename, src)
	if err != nil {
		switch {
		case errors.Is(err, imagestore.ErrNoFile):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		case errors.Is(err, usecase.ErrClassify):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not process image"})
		case errors.Is(err, usecase.ErrStoreImage):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "file save failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	body := gin.H{
		"image":       result.ImageRef,
		"label":       result.Label.String(),
		"probability": result.Probability,
		"result":      result.ResultText,
		"saved":       result.Persisted,
	}
	if result.Persisted {
		body["record_id"] = result.RecordID
	}
	if result.Notice != "" {
		body["notice"] = result.Notice
	}
	c.JSON(http.StatusOK, body)
}

func handleHistory(c *gin.Context, svc Service) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	records, err := svc.History(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]gin.H, 0, len(records))
	for i := range records {
		items = append(items, recordJSON(&records[i]))
	}
	c.JSON(http.StatusOK, gin.H{"analyses": items})
}

func handleGetRecord(c *gin.Context, svc Service) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}

	record, err := svc.GetRecord(c.Request.Context(), userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, recordJSON(record))
}

func handleSummary(c *gin.Context, svc Service) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	summary, err := svc.GetSummary(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func handleRecordReport(c *gin.Context, svc Service) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}

	data, err := svc.RecordReport(c.Request.Context(), userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="retina_report_%d.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", data)
}

func handleHistoryReport(c *gin.Context, svc Service) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	data, err := svc.HistoryReport(c.Request.Context(), userID)
	if err != nil {
		// An empty history renders nothing; surface it like a missing
		// resource rather than an empty document.
		if errors.Is(err, report.ErrEmptyReport) {
			notFound(c)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="retina_history.pdf"`)
	c.Data(http.StatusOK, "application/pdf", data)
}

func currentUser(c *gin.Context) (string, bool) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	return userID, true
}

func recordID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		notFound(c)
		return 0, false
	}
	return uint(id), true
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func recordJSON(record *repository.AnalysisRecord) gin.H {
	return gin.H{
		"id":          record.ID,
		"created_at":  record.CreatedAt,
		"label":       record.Label,
		"probability": record.Score,
		"image":       record.ImagePath,
	}
}
