package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/authz-api/internal/model"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

const (
	ContextSubject = "subject"
	ContextDebug   = "debug"
)

type Response struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Details string      `json:"details,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(code apperrors.ErrorCode, message string) *Response {
	return &Response{
		Status:  "error",
		Code:    string(code),
		Message: message,
	}
}

// RespondError aborts c with the envelope for err. Causes are only exposed
// when the request runs in debug mode.
func RespondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !apperrors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}

	status := appErr.StatusCode()
	resp := NewErrorResponse(appErr.Code, appErr.Message)
	if c.GetBool(ContextDebug) && appErr.Err != nil {
		resp.Details = appErr.Err.Error()
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Msg("request failed")
	}

	c.AbortWithStatusJSON(status, resp)
}

// SetSubject stores the resolved subject on c
func SetSubject(c *gin.Context, s *model.Subject) {
	c.Set(ContextSubject, s)
}

// SubjectFrom returns the subject set by authentication, or nil
func SubjectFrom(c *gin.Context) *model.Subject {
	v, ok := c.Get(ContextSubject)
	if !ok {
		return nil
	}
	s, _ := v.(*model.Subject)
	return s
}
