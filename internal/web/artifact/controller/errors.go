package controller

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/model"
)

const errCodeInternal = "INTERNAL"

var statusByCode = map[model.ErrorCode]int{
	model.ErrCodeNotFound:           http.StatusNotFound,
	model.ErrCodeUnauthorized:       http.StatusUnauthorized,
	model.ErrCodeForbidden:          http.StatusForbidden,
	model.ErrCodeInvalidArgument:    http.StatusBadRequest,
	model.ErrCodeMalformed:          http.StatusBadRequest,
	model.ErrCodeExpired:            http.StatusUnauthorized,
	model.ErrCodeWrongOwner:         http.StatusForbidden,
	model.ErrCodeDownloadsExhausted: http.StatusForbidden,
	model.ErrCodeIPNotAllowed:       http.StatusForbidden,
	model.ErrCodeStorageUnavailable: http.StatusInternalServerError,
	model.ErrCodeBackendUnavailable: http.StatusServiceUnavailable,
	model.ErrCodeTimeout:            http.StatusRequestTimeout,
	model.ErrCodeIntegrityFailed:    http.StatusUnprocessableEntity,
	model.ErrCodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// abortWithError maps err to a status and a machine readable reason.
func abortWithError(c *gin.Context, err error) {
	logger := gmw.GetLogger(c)

	typed, ok := model.AsError(err)
	if !ok {
		logger.Error("artifact request failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			Error:   errCodeInternal,
			Message: "internal error",
		})
		return
	}

	status, ok := statusByCode[typed.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		logger.Error("artifact request failed",
			zap.String("code", string(typed.Code)), zap.Error(err))
	} else {
		logger.Debug("artifact request rejected",
			zap.String("code", string(typed.Code)), zap.Error(err))
	}

	// causes stay in the logs, only the top level message reaches the client
	c.AbortWithStatusJSON(status, errorResponse{
		Error:   string(typed.Code),
		Message: typed.Message,
		Hint:    typed.Hint,
	})
}
