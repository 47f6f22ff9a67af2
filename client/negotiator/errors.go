package negotiator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	model "snapshot-service/models"

	"github.com/tidwall/gjson"
)

var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrQuotaExceeded      = errors.New("snapshot quota exceeded")
	ErrSessionNotWritable = errors.New("session is no longer writable")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSnapshotGone       = errors.New("snapshot has expired")
	ErrInvalidRequest     = errors.New("request rejected by server")
)

// Envelope codes returned by the origin
const (
	codeSuccess            = 0
	codeInvalidParam       = 40000
	codeCapExceeded        = 40001
	codeUnauthorized       = 40100
	codeQuotaExceeded      = 40300
	codeNotFound           = 40400
	codeSessionNotWritable = 40900
	codeReconciliation     = 40901
	codeGone               = 41000
)

// APIError an answer the client has no named variant for
type APIError struct {
	Status  int
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("server error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("unexpected HTTP %d: %s", e.Status, e.Message)
}

// Classify turn an origin response into its data payload or a named error.
// Every response of the origin API goes through here.
func Classify(status int, body []byte) (gjson.Result, error) {
	if status == http.StatusUnauthorized {
		return gjson.Result{}, ErrAuthRequired
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &APIError{Status: status, Message: truncate(string(body), 200)}
	}

	env := gjson.ParseBytes(body)
	code := env.Get("code")
	message := env.Get("message").String()
	data := env.Get("data")
	if !code.Exists() {
		return gjson.Result{}, &APIError{Status: status, Message: "response is not an api envelope"}
	}

	switch code.Int() {
	case codeSuccess:
		if status >= 300 {
			return gjson.Result{}, &APIError{Status: status, Message: message}
		}
		return data, nil
	case codeCapExceeded:
		capErr := &model.CapExceededError{}
		if err := json.Unmarshal([]byte(data.Raw), capErr); err != nil {
			return gjson.Result{}, fmt.Errorf("%w: %s", ErrInvalidRequest, message)
		}
		return gjson.Result{}, capErr
	case codeReconciliation:
		recErr := &model.ReconciliationError{}
		if err := json.Unmarshal([]byte(data.Raw), recErr); err != nil {
			return gjson.Result{}, &APIError{Status: status, Code: code.Int(), Message: message}
		}
		return gjson.Result{}, recErr
	case codeUnauthorized:
		return gjson.Result{}, ErrAuthRequired
	case codeQuotaExceeded:
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrQuotaExceeded, message)
	case codeNotFound:
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, message)
	case codeSessionNotWritable:
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrSessionNotWritable, message)
	case codeGone:
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrSnapshotGone, message)
	case codeInvalidParam:
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrInvalidRequest, message)
	default:
		return gjson.Result{}, &APIError{Status: status, Code: code.Int(), Message: message}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
