package handler

import (
	"fmt"
	"strings"

	"snapshot-service/controller/respond"
	model "snapshot-service/models"
	"snapshot-service/service/snapshot_service"

	"github.com/gin-gonic/gin"
)

// SnapshotHandler snapshot session endpoints
type SnapshotHandler struct {
	snapshotService   *snapshot_service.SnapshotService
	defaultExpiryDays int
}

// NewSnapshotHandler create snapshot handler instance
func NewSnapshotHandler(snapshotService *snapshot_service.SnapshotService, defaultExpiryDays int) *SnapshotHandler {
	return &SnapshotHandler{
		snapshotService:   snapshotService,
		defaultExpiryDays: defaultExpiryDays,
	}
}

// GetConfig get snapshot caps
// @Summary Get snapshot caps
// @Description Capacity limits applied to new sessions
// @Tags Snapshot
// @Produce json
// @Success 200 {object} respond.Response{data=respond.ConfigResponse}
// @Router /api/v1/config [get]
func (h *SnapshotHandler) GetConfig(c *gin.Context) {
	respond.Success(c, respond.ConfigResponse{
		Caps:              h.snapshotService.Caps(),
		DefaultExpiryDays: h.defaultExpiryDays,
	})
}

// OpenSession open a snapshot session
// @Summary Open snapshot session
// @Description Create an empty session in creating state
// @Tags Snapshot
// @Accept json
// @Produce json
// @Param request body model.OpenSessionRequest false "session options"
// @Success 200 {object} respond.Response{data=model.SessionInfo}
// @Failure 401 {object} respond.Response
// @Failure 403 {object} respond.Response
// @Router /api/v1/snapshots [post]
func (h *SnapshotHandler) OpenSession(c *gin.Context) {
	var req model.OpenSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.InvalidParam(c, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	session, err := h.snapshotService.OpenSession(c.Request.Context(), currentOwner(c), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respond.Success(c, h.snapshotService.SessionInfo(session))
}

// GetSession get session status
// @Summary Get snapshot session
// @Description Session status, with the snapshot once finalized
// @Tags Snapshot
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} respond.Response{data=respond.SnapshotStatusResponse}
// @Failure 404 {object} respond.Response
// @Router /api/v1/snapshots/{id} [get]
func (h *SnapshotHandler) GetSession(c *gin.Context) {
	session, err := h.snapshotService.GetSession(c.Request.Context(), currentOwner(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	resp := respond.SnapshotStatusResponse{Session: h.snapshotService.SessionInfo(session)}
	if session.Status != model.SessionStatusCreating {
		resp.Snapshot = h.snapshotService.SnapshotView(session)
	}
	respond.Success(c, resp)
}

// GetUploadDestination negotiate the upload destination of one file
// @Summary Get upload destination
// @Description Record a file of the session and return a direct-write URL and the proxy fallback path
// @Tags Snapshot
// @Accept json
// @Produce json
// @Param id path string true "session id"
// @Param request body model.DestinationRequest true "file"
// @Success 200 {object} respond.Response{data=model.UploadDestination}
// @Failure 400 {object} respond.Response
// @Failure 409 {object} respond.Response
// @Router /api/v1/snapshots/{id}/destinations [post]
func (h *SnapshotHandler) GetUploadDestination(c *gin.Context) {
	var req model.DestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.InvalidParam(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	dest, err := h.snapshotService.GetUploadDestination(c.Request.Context(), currentOwner(c), c.Param("id"), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respond.Success(c, dest)
}

// UploadFile proxied upload of one file
// @Summary Upload file through the origin
// @Description Fallback upload path; the body is the raw file content
// @Tags Snapshot
// @Accept octet-stream
// @Produce json
// @Param id path string true "session id"
// @Param path path string true "file path"
// @Success 200 {object} respond.Response
// @Failure 400 {object} respond.Response
// @Failure 409 {object} respond.Response
// @Router /api/v1/snapshots/{id}/files/{path} [put]
func (h *SnapshotHandler) UploadFile(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		respond.InvalidParam(c, "path is required")
		return
	}

	err := h.snapshotService.StoreProxiedUpload(c.Request.Context(), currentOwner(c), c.Param("id"), path, c.Request.Body, c.Request.ContentLength)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respond.Success(c, nil)
}

// Finalize publish the session
// @Summary Finalize snapshot
// @Description Verify every manifest entry and make the snapshot active
// @Tags Snapshot
// @Accept json
// @Produce json
// @Param id path string true "session id"
// @Param request body model.FinalizeRequest true "manifest"
// @Success 200 {object} respond.Response{data=model.Snapshot}
// @Failure 409 {object} respond.Response{data=model.ReconciliationError}
// @Router /api/v1/snapshots/{id}/finalize [post]
func (h *SnapshotHandler) Finalize(c *gin.Context) {
	var req model.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.InvalidParam(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	snapshot, err := h.snapshotService.Finalize(c.Request.Context(), currentOwner(c), c.Param("id"), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respond.Success(c, snapshot)
}

// DownloadArchive download an active snapshot as zip
// @Summary Download snapshot archive
// @Tags Snapshot
// @Produce application/zip
// @Param id path string true "session id"
// @Success 200 {file} binary
// @Failure 404 {object} respond.Response
// @Failure 410 {object} respond.Response
// @Router /api/v1/snapshots/{id}/archive [get]
func (h *SnapshotHandler) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	session, err := h.snapshotService.GetSession(c.Request.Context(), currentOwner(c), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if session.Status != model.SessionStatusActive {
		writeServiceError(c, snapshot_service.ErrSnapshotGone)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="snapshot-%s.zip"`, id))
	if err := h.snapshotService.WriteArchive(c.Request.Context(), currentOwner(c), id, c.Writer); err != nil {
		// headers are gone once streaming started; abort the connection instead
		c.Error(err)
		c.Abort()
	}
}
