package handler

import (
	"net/http"
	"time"

	"squadlink/internal/services"
	"squadlink/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type UploadHandler struct {
	service *services.UploadService
}

func NewUploadHandler(service *services.UploadService) *UploadHandler {
	return &UploadHandler{service: service}
}

// CreateImage presigns an image upload for the viewer.
func (h *UploadHandler) CreateImage(c *gin.Context) {
	var req httpdto.CreateImageUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	viewerID, ok := services.ViewerIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	up, err := h.service.CreateImageUpload(c.Request.Context(), services.ImageUploadInput{
		ViewerID:    viewerID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		FileSize:    req.FileSize,
	})
	if err != nil {
		c.Error(err)
		c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), "REQUEST_FAILED"))
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CreateImageUploadResponse{
		ObjectKey: up.ObjectKey,
		UploadURL: up.UploadURL,
		FileURL:   up.FileURL,
		Headers:   up.Headers,
		ExpiresAt: up.ExpiresAt.UTC().Format(time.RFC3339),
	}))
}
