package httpapi

import (
	"errors"
	"net/http"

	"coralcrave-auction-service/internal/domain/shared"

	"github.com/gin-gonic/gin"
)

// errorResponse is the failure body of every endpoint
type errorResponse struct {
	OK      bool        `json:"ok"`
	Code    shared.Code `json:"code"`
	Message string      `json:"message"`
}

// StatusForCode maps a domain error code to an HTTP status
func StatusForCode(code shared.Code) int {
	switch code {
	case shared.CodeUnauthenticated:
		return http.StatusUnauthorized
	case shared.CodeInvalidArgument:
		return http.StatusBadRequest
	case shared.CodeNotFound:
		return http.StatusNotFound
	case shared.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case shared.CodeDeadlineExceeded:
		return http.StatusGone
	case shared.CodeAborted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends {ok:false, code, message}. Internal errors do not leak their text.
func writeError(c *gin.Context, err error) {
	code := shared.CodeOf(err)
	message := "internal error"
	var domainErr *shared.Error
	switch {
	case errors.As(err, &domainErr):
		message = domainErr.Message
	case code == shared.CodeAborted:
		message = shared.ErrCommitAborted.Message
	}
	c.AbortWithStatusJSON(StatusForCode(code), errorResponse{OK: false, Code: code, Message: message})
}

func writeBindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		OK:      false,
		Code:    shared.CodeInvalidArgument,
		Message: "invalid request payload: " + err.Error(),
	})
}
