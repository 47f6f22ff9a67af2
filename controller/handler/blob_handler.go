package handler

import (
	"snapshot-service/controller/respond"
	"snapshot-service/service/auth_service"
	"snapshot-service/service/snapshot_service"

	"github.com/gin-gonic/gin"
)

// BlobHandler direct-write endpoint of the local object store
type BlobHandler struct {
	authService     *auth_service.AuthService
	snapshotService *snapshot_service.SnapshotService
}

// NewBlobHandler create blob handler instance
func NewBlobHandler(authService *auth_service.AuthService, snapshotService *snapshot_service.SnapshotService) *BlobHandler {
	return &BlobHandler{
		authService:     authService,
		snapshotService: snapshotService,
	}
}

// PutBlob write one object with a signed upload ticket
// @Summary Direct upload
// @Description Write one object; the ticket in the URL authorizes exactly one key and size
// @Tags Blob
// @Accept octet-stream
// @Produce json
// @Param ticket path string true "upload ticket"
// @Success 200 {object} respond.Response
// @Failure 401 {object} respond.Response
// @Router /blob/{ticket} [put]
func (h *BlobHandler) PutBlob(c *gin.Context) {
	ticket, err := h.authService.ParseUploadTicket(c.Param("ticket"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if c.Request.ContentLength >= 0 && c.Request.ContentLength != ticket.SizeBytes {
		respond.InvalidParam(c, "content length does not match upload ticket")
		return
	}

	if err := h.snapshotService.StoreDirectUpload(c.Request.Context(), ticket.Key, c.Request.Body, ticket.SizeBytes); err != nil {
		writeServiceError(c, err)
		return
	}
	respond.Success(c, nil)
}
