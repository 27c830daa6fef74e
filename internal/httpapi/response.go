package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/datastore"
	"github.com/unkn0wn-root/opscache/internal/fleet"
)

const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeBatchAborted   = "batch_aborted"
	ErrCodeUpstream       = "upstream_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeInternal       = "internal_error"
)

type SuccessResponse struct {
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// Code is the data store error code (e.g. a PostgREST or SQLSTATE code).
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Data: data, RequestID: requestID(c), Timestamp: time.Now()})
}

func fail(c *gin.Context, status int, body ErrorResponse) {
	body.RequestID = requestID(c)
	body.Timestamp = time.Now()
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, ErrorResponse{Error: ErrCodeInvalidRequest, Message: msg})
}

// writeError maps service errors onto statuses. Data store rejections are
// 502, an unreachable store or open breaker is 503.
func writeError(c *gin.Context, err error) {
	var (
		abort *opscache.BatchAbortError
		ve    *opscache.ValidationError
		dfe   *opscache.DataFetchError
		de    *datastore.Error
	)
	switch {
	case errors.Is(err, fleet.ErrInvalidArgument):
		badRequest(c, err.Error())
	case errors.As(err, &abort):
		status := http.StatusBadGateway
		body := ErrorResponse{
			Error:   ErrCodeBatchAborted,
			Message: err.Error(),
			Details: map[string]any{
				"index":       abort.Index,
				"kind":        abort.Kind,
				"entity":      abort.Entity,
				"applied":     abort.Applied,
				"invalidated": abort.Invalidated,
			},
		}
		switch {
		case errors.As(err, &ve):
			status = http.StatusUnprocessableEntity
			body.Details["field"] = ve.Field
		case errors.Is(err, datastore.ErrUnavailable):
			status = http.StatusServiceUnavailable
		case errors.As(err, &de):
			body.Code = de.Code
		}
		fail(c, status, body)
	case errors.As(err, &dfe):
		status := http.StatusBadGateway
		code := ErrCodeUpstream
		if errors.Is(err, datastore.ErrUnavailable) {
			status, code = http.StatusServiceUnavailable, ErrCodeUnavailable
		}
		fail(c, status, ErrorResponse{Error: code, Message: dfe.Message, Code: dfe.Code, Details: map[string]any{"key": dfe.Key}})
	case errors.Is(err, datastore.ErrUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrorResponse{Error: ErrCodeUnavailable, Message: err.Error()})
	case errors.As(err, &de):
		fail(c, http.StatusBadGateway, ErrorResponse{Error: ErrCodeUpstream, Message: de.Message, Code: de.Code})
	default:
		fail(c, http.StatusInternalServerError, ErrorResponse{Error: ErrCodeInternal, Message: err.Error()})
	}
}
