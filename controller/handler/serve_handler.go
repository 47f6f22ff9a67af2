package handler

import (
	"errors"
	"net/http"
	"strings"

	"snapshot-service/common"
	"snapshot-service/controller/respond"
	"snapshot-service/service/snapshot_service"

	"github.com/gin-gonic/gin"
)

// ServeHandler serves published snapshots to visitors
type ServeHandler struct {
	snapshotService *snapshot_service.SnapshotService
	pathPrefix      string
}

// NewServeHandler create serve handler instance
func NewServeHandler(snapshotService *snapshot_service.SnapshotService, pathPrefix string) *ServeHandler {
	return &ServeHandler{
		snapshotService: snapshotService,
		pathPrefix:      pathPrefix,
	}
}

// ServeSnapshotFiles serve a file of an active snapshot
// @Summary Serve snapshot files
// @Description Serve static files of a snapshot; directories resolve to index.html
// @Tags Serve
// @Produce html
// @Param id path string true "session id"
// @Param filepath path string false "file path"
// @Success 200 {file} file
// @Failure 401 {object} respond.Response
// @Failure 404 {object} respond.Response
// @Failure 410 {object} respond.Response
// @Router /s/{id}/{filepath} [get]
func (h *ServeHandler) ServeSnapshotFiles(c *gin.Context) {
	id := c.Param("id")
	requested := strings.TrimPrefix(c.Param("filepath"), "/")
	fullPath := c.Request.URL.Path

	password := visitorPassword(c)

	// relative links in index.html need the trailing slash
	if !strings.HasSuffix(fullPath, "/") && (requested == "" || h.snapshotService.IsDirectory(id, requested, password)) {
		c.Redirect(http.StatusMovedPermanently, h.getPathPrefix(c)+fullPath+"/")
		return
	}

	if requested != "" {
		canonical, err := common.CanonicalPath(requested)
		if err != nil {
			respond.NotFound(c, "invalid file path")
			return
		}
		requested = canonical
	}

	file, err := h.snapshotService.OpenFile(c.Request.Context(), id, requested, password)
	if err != nil {
		if errors.Is(err, snapshot_service.ErrSessionNotFound) {
			respond.NotFound(c, "file not found")
			return
		}
		writeServiceError(c, err)
		return
	}
	defer file.Body.Close()

	c.DataFromReader(http.StatusOK, file.Entry.SizeBytes, file.Entry.ContentType, file.Body, map[string]string{
		"ETag":          `"` + file.Entry.DigestHex + `"`,
		"Cache-Control": "private, max-age=60",
	})
}

// visitorPassword access secret from basic auth or the X-Snapshot-Password header
func visitorPassword(c *gin.Context) string {
	if _, password, ok := c.Request.BasicAuth(); ok {
		return password
	}
	return c.GetHeader("X-Snapshot-Password")
}

// getPathPrefix get path prefix (for reverse proxy scenarios)
func (h *ServeHandler) getPathPrefix(c *gin.Context) string {
	if h.pathPrefix != "" {
		return h.pathPrefix
	}
	return c.GetHeader("X-Forwarded-Prefix")
}
