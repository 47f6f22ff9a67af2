package handler

import (
	"errors"

	"snapshot-service/controller/respond"
	model "snapshot-service/models"
	"snapshot-service/service/auth_service"
	"snapshot-service/service/snapshot_service"

	"github.com/gin-gonic/gin"
)

// writeServiceError map a service error to its response code
func writeServiceError(c *gin.Context, err error) {
	var capErr *model.CapExceededError
	var recErr *model.ReconciliationError

	switch {
	case errors.As(err, &capErr):
		respond.ErrorWithData(c, respond.CodeCapExceeded, capErr.Error(), capErr)
	case errors.As(err, &recErr):
		respond.ErrorWithData(c, respond.CodeReconciliation, recErr.Error(), recErr)
	case errors.Is(err, snapshot_service.ErrInvalidRequest),
		errors.Is(err, snapshot_service.ErrUploadNotNegotiated):
		respond.InvalidParam(c, err.Error())
	case errors.Is(err, auth_service.ErrInvalidToken),
		errors.Is(err, auth_service.ErrInvalidAPIKey):
		respond.Unauthorized(c, err.Error())
	case errors.Is(err, snapshot_service.ErrQuotaExceeded):
		respond.Error(c, respond.CodeQuotaExceeded, err.Error())
	case errors.Is(err, snapshot_service.ErrSessionNotFound):
		respond.NotFound(c, err.Error())
	case errors.Is(err, snapshot_service.ErrSessionNotWritable):
		respond.Error(c, respond.CodeSessionNotWritable, err.Error())
	case errors.Is(err, snapshot_service.ErrSnapshotGone):
		respond.Error(c, respond.CodeGone, err.Error())
	case errors.Is(err, snapshot_service.ErrPasswordRequired):
		c.Header("WWW-Authenticate", `Basic realm="snapshot"`)
		respond.Unauthorized(c, err.Error())
	default:
		respond.ServerError(c, err.Error())
	}
}
