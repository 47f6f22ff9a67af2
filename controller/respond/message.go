package respond

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Message unified response structure
type Message struct {
	Code           int         `json:"code"`
	Message        string      `json:"message"`
	ProcessingTime int64       `json:"processingTime"`
	Data           interface{} `json:"data"`
}

// Response response structure (for API docs)
// @Description Unified API response structure
type Response struct {
	Code           int         `json:"code" example:"0" description:"Response code: 0=success, 4xxxx=client error, 50000=server error"`
	Message        string      `json:"message" example:"success" description:"Response message"`
	ProcessingTime int64       `json:"processingTime" example:"123" description:"Request processing time (milliseconds)"`
	Data           interface{} `json:"data" description:"Response data"`
}

// Response code constants. The HTTP status of an error response is code / 100.
const (
	CodeSuccess            = 0     // Success
	CodeInvalidParam       = 40000 // Parameter error
	CodeCapExceeded        = 40001 // Per-file or aggregate cap exceeded
	CodeUnauthorized       = 40100 // Missing, invalid or expired credential
	CodeQuotaExceeded      = 40300 // Owner quota exhausted
	CodeNotFound           = 40400 // Resource not found
	CodeSessionNotWritable = 40900 // Session no longer accepts changes
	CodeReconciliation     = 40901 // Finalize found missing or mismatching objects
	CodeGone               = 41000 // Snapshot expired
	CodeServerError        = 50000 // Server error
)

// Success message constants
const (
	MsgSuccess = "success"
	MsgFailed  = "failed"
)

// HTTPStatus maps a response code to its HTTP status
func HTTPStatus(code int) int {
	if code == CodeSuccess {
		return http.StatusOK
	}
	if status := code / 100; status >= 400 && status < 600 {
		return status
	}
	return http.StatusInternalServerError
}

// Success return success response
func Success(c *gin.Context, data interface{}) {
	SuccessWithMsg(c, MsgSuccess, data)
}

// SuccessWithMsg return success response (custom message)
func SuccessWithMsg(c *gin.Context, message string, data interface{}) {
	processingTime := getProcessingTime(c)
	c.JSON(http.StatusOK, Message{
		Code:           CodeSuccess,
		Message:        message,
		ProcessingTime: processingTime,
		Data:           data,
	})
}

// Error return error response
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData return error response (with data)
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	processingTime := getProcessingTime(c)
	c.AbortWithStatusJSON(HTTPStatus(code), Message{
		Code:           code,
		Message:        message,
		ProcessingTime: processingTime,
		Data:           data,
	})
}

// InvalidParam return parameter error response
func InvalidParam(c *gin.Context, message string) {
	Error(c, CodeInvalidParam, message)
}

// Unauthorized return credential error response
func Unauthorized(c *gin.Context, message string) {
	Error(c, CodeUnauthorized, message)
}

// NotFound return resource not found response
func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

// ServerError return server error response
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// getProcessingTime calculate request processing time (milliseconds)
func getProcessingTime(c *gin.Context) int64 {
	if startTime, exists := c.Get("start_time"); exists {
		if t, ok := startTime.(time.Time); ok {
			return time.Since(t).Milliseconds()
		}
	}
	return 0
}

// TimingMiddleware timing middleware
func TimingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("start_time", time.Now())
		c.Next()
	}
}
