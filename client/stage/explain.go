package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"snapshot-service/client/discover"
	"snapshot-service/client/negotiator"
	"snapshot-service/client/scanner"
	"snapshot-service/client/uploader"
	model "snapshot-service/models"
)

// Explain render a fatal error as what failed, why, and what to do next
func Explain(err error) string {
	var (
		capErr    *model.CapExceededError
		recErr    *model.ReconciliationError
		discErr   *discover.DiscoveryError
		uploadErr *uploader.UploadFailedError
		buildErr  *BuildError
		apiErr    *negotiator.APIError
	)

	var what, next string
	switch {
	case errors.Is(err, negotiator.ErrAuthRequired):
		what = "Authentication required."
		next = "Check the api key (--api-key or SNAPSHOT_API_KEY) and authenticate again."
	case errors.As(err, &capErr):
		what = "The build output is over the size limit."
		if capErr.Kind == model.CapPerFile {
			next = fmt.Sprintf("Reduce the size of %s or exclude it with --exclude.", capErr.Path)
		} else {
			next = "Reduce the total size of the build output, for example by excluding the largest files with --exclude."
		}
	case errors.As(err, &discErr):
		what = "No build output was found."
		next = "Pick a different folder or pass --output-dir."
	case errors.Is(err, scanner.ErrNoFiles):
		what = "There is nothing to upload."
		next = "Check the --include and --exclude patterns, or run the build first (--build)."
	case errors.As(err, &uploadErr):
		what = fmt.Sprintf("%d file(s) could not be uploaded: %s.", len(uploadErr.Files), strings.Join(uploadErr.Paths(), ", "))
		next = "Check the network connection and retry; nothing was published."
	case errors.As(err, &recErr):
		what = "The server could not verify every uploaded file."
		next = "Retry the staging command; the files named above will be uploaded again."
	case errors.Is(err, negotiator.ErrQuotaExceeded):
		what = "The snapshot quota of this account is used up."
		next = "Wait for an existing snapshot to expire or raise the quota."
	case errors.Is(err, negotiator.ErrSessionNotWritable):
		what = "The snapshot session no longer accepts changes."
		next = "Run the staging command again to open a new session."
	case errors.As(err, &buildErr):
		what = "The build failed."
		next = "Fix the build errors above, or stage an existing output without --build."
	case errors.Is(err, context.DeadlineExceeded):
		what = "The server did not answer in time."
		next = "Retry, or raise --request-timeout / --upload-timeout."
	case errors.As(err, &apiErr):
		what = "The server rejected the request."
		next = "Retry; if it keeps failing, check the server URL (--server)."
	default:
		what = "Staging failed."
		next = "Retry the staging command."
	}
	return fmt.Sprintf("%s\nReason: %v\nNext: %s", what, err, next)
}
