package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crypto-gateway/logging"
	"crypto-gateway/models"
	"crypto-gateway/service"
)

// maxWebhookBytes bounds the raw body read for signature verification
const maxWebhookBytes = 1 << 20

// WebhookHandler receives gateway callbacks
type WebhookHandler struct {
	reconciler *service.Reconciler
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(reconciler *service.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandleWebhook passes the untouched body and headers to the reconciler.
// Responses never echo the payload or why verification failed.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	provider, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if len(body) > maxWebhookBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	outcome, err := h.reconciler.ProcessWebhook(c.Request.Context(), provider, body, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "processed", "outcome": outcome})
	case errors.Is(err, models.ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, models.ErrGatewayUnavailable), errors.Is(err, models.ErrUnsupportedGateway):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
	case errors.Is(err, models.ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
	default:
		logging.FromContext(c.Request.Context()).Error("Webhook handling failed",
			zap.Error(err),
			zap.String("gateway", provider.String()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
	}
}

// RegisterRoutes mounts the payment API, webhook endpoints and health check
func RegisterRoutes(r gin.IRouter, payments *PaymentHandler, webhooks *WebhookHandler) {
	r.GET("/health", payments.HealthCheck)

	api := r.Group("/api")
	api.POST("/payments", payments.CreatePayment)
	api.GET("/payments", payments.ListPayments)
	api.GET("/payments/fee-estimate", payments.EstimateFee)
	api.GET("/payments/:id", payments.GetPayment)
	api.GET("/gateways", payments.ListGateways)
	api.GET("/gateways/:gateway/currencies", payments.ListCurrencies)
	api.GET("/coins", payments.CoinBalance)

	r.POST("/webhooks/:provider", webhooks.HandleWebhook)
}
