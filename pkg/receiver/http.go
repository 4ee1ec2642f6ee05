package receiver

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
)

const (
	// HeaderSignature carries the hex HMAC-SHA256 of the request body
	HeaderSignature = "X-Syncforge-Signature"
	// HeaderIdempotencyKey carries the sender's delivery key
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// maxBodyBytes caps the raw request body before parsing
const maxBodyBytes = 32 << 20 // 32MB

// Handler exposes a receiver over HTTP
type Handler struct {
	receiver *Receiver
	logger   *zap.Logger
}

// NewHandler creates an HTTP handler for a receiver
func NewHandler(r *Receiver) *Handler {
	return &Handler{
		receiver: r,
		logger:   logger.Get().With(zap.String("component", "receiver_http")),
	}
}

// Register mounts the webhook route on a gin router group
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/webhook", h.handleWebhook)
}

func (h *Handler) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	format := PayloadFormat(c.DefaultQuery("format", string(FormatJSON)))

	result, err := h.receiver.Receive(c.Request.Context(), ReceiveRequest{
		Payload:        body,
		Format:         format,
		Signature:      c.GetHeader(HeaderSignature),
		IdempotencyKey: c.GetHeader(HeaderIdempotencyKey),
	})
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("webhook ingestion failed", zap.Error(err))
		}
		c.JSON(status, gin.H{
			"error": err.Error(),
			"code":  errors.CodeOf(err),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// statusForError maps the error taxonomy onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.IsType(err, errors.ErrorTypeAuthentication):
		return http.StatusUnauthorized
	case errors.IsType(err, errors.ErrorTypePermission):
		return http.StatusForbidden
	case errors.IsType(err, errors.ErrorTypeValidation):
		return http.StatusBadRequest
	case errors.IsType(err, errors.ErrorTypeBatchSize):
		return http.StatusRequestEntityTooLarge
	case errors.IsType(err, errors.ErrorTypeNotFound):
		return http.StatusNotFound
	case errors.IsType(err, errors.ErrorTypeRateLimit):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
