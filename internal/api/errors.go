// Package api is the §6 HTTP surface: gin handlers that translate inbound
// indexing, query, wiki, and checklist requests into calls against the
// orchestrator, generation, wiki, and checklist engines, and render their
// results (and failures) in the uniform envelope of §7.1.
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

// envelope is the uniform error shape of spec.md line 277.
type envelope struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// statusForCategory maps an error category onto the HTTP status a REST
// client expects; categories with no entry fall through to 500.
var statusForCategory = map[apperr.Category]int{
	apperr.CategoryValidation:     http.StatusBadRequest,
	apperr.CategoryAuthentication: http.StatusUnauthorized,
	apperr.CategoryAuthorization:  http.StatusForbidden,
	apperr.CategoryNotFound:       http.StatusNotFound,
	apperr.CategoryConflict:       http.StatusConflict,
	apperr.CategoryConfig:         http.StatusInternalServerError,
	apperr.CategoryPartition:      http.StatusUnprocessableEntity,
	apperr.CategoryMetadata:       http.StatusUnprocessableEntity,
	apperr.CategoryEnrichment:     http.StatusUnprocessableEntity,
	apperr.CategoryChunking:       http.StatusUnprocessableEntity,
	apperr.CategoryEmbedding:      http.StatusUnprocessableEntity,
	apperr.CategoryRetrieval:      http.StatusUnprocessableEntity,
	apperr.CategoryGeneration:     http.StatusUnprocessableEntity,
	apperr.CategoryStorage:        http.StatusBadGateway,
	apperr.CategoryDatabase:       http.StatusInternalServerError,
	apperr.CategoryExternalAPI:    http.StatusBadGateway,
	apperr.CategoryInternal:       http.StatusInternalServerError,
}

// errorMiddleware renders any error attached to the context via c.Error
// into the uniform envelope, logging it with the request's bound fields
// first. The router registers it after recoveryHandler; a panic is caught
// by recoveryHandler, which renders the same envelope itself.
func errorMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		rc, _ := reqcontext.FromContext(c.Request.Context())

		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			appErr = apperr.Wrap("internal.unexpected", apperr.CategoryInternal, "an unexpected error occurred", err)
		}
		appErr.WithRequestID(rc.RequestID)

		reqcontext.Logger(logger, rc).WithFields(logrus.Fields{
			"code":     appErr.Code,
			"category": appErr.Category,
		}).WithError(err).Error("request failed")

		status, ok := statusForCategory[appErr.Category]
		if !ok {
			status = http.StatusInternalServerError
		}

		c.JSON(status, envelope{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: appErr.RequestID,
			Timestamp: appErr.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
}

// recoveryHandler renders an unrecovered panic in the same envelope shape
// instead of gin's default plain-text 500.
func recoveryHandler(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		rc, _ := reqcontext.FromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{"request_id": rc.RequestID, "panic": recovered}).Error("panic recovered")
		appErr := apperr.New("internal.panic", apperr.CategoryInternal, "an unexpected error occurred").WithRequestID(rc.RequestID)
		c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: appErr.RequestID,
			Timestamp: appErr.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		})
	})
}

// requestContextMiddleware stamps every inbound request with a fresh
// RequestContext bound into its context.Context, so downstream handlers and
// the error middleware share identity and correlation fields (§4.16).
func requestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		rc := reqcontext.Anonymous(requestID)
		if ownerID := c.GetHeader("X-Owner-ID"); ownerID != "" {
			rc.OwnerID = ownerID
			rc.IsAuthenticated = true
		}
		c.Request = c.Request.WithContext(reqcontext.WithContext(c.Request.Context(), rc))
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}
