package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/selfie-capture/internal/auth"
	"github.com/example/selfie-capture/internal/capture"
	"github.com/example/selfie-capture/internal/usecase"
)

// MaxUploadSize bounds a single uploaded frame.
const MaxUploadSize = 4 << 20

var allowedFrameTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// CaptureService is the use case surface the HTTP layer needs.
type CaptureService interface {
	StartSession(ctx context.Context, userID string, isEnroll bool) (string, error)
	PushFrame(ctx context.Context, userID, sessionID string, data []byte) (bool, error)
	GetSnapshot(ctx context.Context, userID, sessionID string) (*capture.Snapshot, error)
	CancelSession(ctx context.Context, userID, sessionID string) error
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type startSessionRequest struct {
	Enroll bool `json:"enroll"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything except
// /health sits behind authMiddleware.
func RegisterRoutes(router *gin.Engine, svc CaptureService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/")
	api.Use(authMiddleware)

	api.POST("/sessions", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var req startSessionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		sessionID, err := svc.StartSession(c.Request.Context(), userID, req.Enroll)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session_id": sessionID, "enroll": req.Enroll})
	})

	api.POST("/sessions/:id/frames", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)
		file, err := c.FormFile("frame")
		if err != nil {
			if isBodyTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "frame file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
			return
		}
		if !allowedFrameTypes[file.Header.Get("Content-Type")] {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "frame must be image/jpeg or image/png"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open frame"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read frame"})
			return
		}

		accepted, err := svc.PushFrame(c.Request.Context(), userID, c.Param("id"), data)
		switch {
		case errors.Is(err, usecase.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		case errors.Is(err, usecase.ErrInvalidFrame):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "frame could not be decoded"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process frame"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
	})

	api.GET("/sessions/:id", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		snap, err := svc.GetSnapshot(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	api.DELETE("/sessions/:id", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		err := svc.CancelSession(c.Request.Context(), userID, c.Param("id"))
		switch {
		case errors.Is(err, usecase.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel session"})
		default:
			c.Status(http.StatusNoContent)
		}
	})

	api.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := auth.UserID(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return userID, true
}
