package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"crypto-gateway/logging"
	"crypto-gateway/models"
	"crypto-gateway/service"
	"crypto-gateway/storage"
)

// UserIDHeader carries the authenticated user id set by the upstream auth layer
const UserIDHeader = "X-User-ID"

// PaymentHandler handles HTTP requests for payments
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

type createPaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"required"`
	Gateway  string          `json:"gateway" binding:"required"`
	Purpose  models.Purpose  `json:"purpose"`
	Metadata map[string]any  `json:"metadata"`
}

// CreatePayment handles payment creation requests
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var body createPaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if body.Purpose == "" {
		body.Purpose = models.PurposeCoinPurchase
	}
	if !body.Purpose.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": "purpose must be coin_purchase or donation"})
		return
	}

	provider, err := models.ParseProvider(body.Gateway)
	if err != nil {
		creationError(c, err)
		return
	}

	result, err := h.paymentService.CreatePayment(ctx, models.PaymentRequest{
		UserID:   userID,
		Amount:   body.Amount,
		Currency: body.Currency,
		Provider: provider,
		Purpose:  body.Purpose,
		Metadata: body.Metadata,
	})
	if err != nil {
		logger := logging.WithTraceContext(span)
		logger.Error("Payment creation failed",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("gateway", provider.String()),
			zap.String("amount", body.Amount.String()),
		)
		creationError(c, err)
		return
	}

	span.AddEvent("payment_created_successfully")
	c.JSON(http.StatusCreated, gin.H{
		"message": "Payment created successfully",
		"payment": result,
	})
}

// creationError maps a payment creation failure onto a status and a stable
// reason code. Upstream and storage details stay in the logs.
func creationError(c *gin.Context, err error) {
	status, reason := http.StatusInternalServerError, "internal_error"

	var upErr *models.UpstreamError
	switch {
	case errors.Is(err, models.ErrGatewayUnavailable):
		status, reason = http.StatusBadRequest, "gateway_not_available"
	case errors.Is(err, models.ErrUnsupportedGateway):
		status, reason = http.StatusBadRequest, "unsupported_gateway"
	case errors.Is(err, models.ErrUnsupportedCurrency):
		status, reason = http.StatusBadRequest, "unsupported_currency"
	case errors.Is(err, models.ErrInvalidAmount):
		status, reason = http.StatusBadRequest, "invalid_amount"
	case errors.As(err, &upErr):
		status, reason = http.StatusBadGateway, "upstream_error"
	}

	c.JSON(status, gin.H{"error": "payment could not be created", "reason": reason})
}

// ListPayments returns the caller's payment history
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	filter := storage.ListFilter{
		Status:  models.Status(c.Query("status")),
		Purpose: models.Purpose(c.Query("purpose")),
		Limit:   queryInt(c, "limit", 0),
		Offset:  queryInt(c, "offset", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}
	if filter.Purpose != "" && !filter.Purpose.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purpose filter"})
		return
	}

	txs, err := h.paymentService.Transactions(c.Request.Context(), userID, filter)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Failed to list payments",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch payments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": txs, "count": len(txs)})
}

// GetPayment returns one of the caller's payments
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	tx, err := h.paymentService.Transaction(c.Request.Context(), userID, c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Failed to fetch payment",
			zap.Error(err),
			zap.String("transaction_id", c.Param("id")),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch payment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": tx})
}

// EstimateFee returns the fee a gateway would charge
func (h *PaymentHandler) EstimateFee(c *gin.Context) {
	provider, err := models.ParseProvider(c.Query("gateway"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported gateway"})
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a number"})
		return
	}
	currency := c.Query("currency")
	if currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency is required"})
		return
	}

	trace.SpanFromContext(c.Request.Context()).SetAttributes(
		attribute.String("fee.gateway", provider.String()),
		attribute.String("fee.currency", currency),
	)

	estimate, err := h.paymentService.EstimateFee(c.Request.Context(), provider, amount, currency)
	switch {
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrUnsupportedCurrency),
		errors.Is(err, models.ErrUnsupportedGateway):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		logging.FromContext(c.Request.Context()).Error("Fee estimation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to estimate fee"})
		return
	}

	c.JSON(http.StatusOK, estimate)
}

// ListGateways returns the active gateways
func (h *PaymentHandler) ListGateways(c *gin.Context) {
	gateways, err := h.paymentService.Gateways(c.Request.Context())
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Failed to list gateways", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch gateways"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gateways": gateways})
}

// ListCurrencies returns the currency catalogue of one gateway
func (h *PaymentHandler) ListCurrencies(c *gin.Context) {
	provider, err := models.ParseProvider(c.Param("gateway"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown gateway"})
		return
	}

	currencies, err := h.paymentService.Currencies(c.Request.Context(), provider)
	if errors.Is(err, models.ErrGatewayUnavailable) {
		c.JSON(http.StatusNotFound, gin.H{"error": "gateway not available"})
		return
	}
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Failed to list gateway currencies",
			zap.Error(err),
			zap.String("gateway", provider.String()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch currencies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gateway": provider, "currencies": currencies})
}

// CoinBalance returns the caller's coin balance
func (h *PaymentHandler) CoinBalance(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	balance, err := h.paymentService.CoinBalance(c.Request.Context(), userID)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Failed to fetch coin balance",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch coin balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "coins": balance})
}

// HealthCheck handles health check requests
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func requireUser(c *gin.Context) (string, bool) {
	userID := c.GetHeader(UserIDHeader)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("user.id", userID))
	return userID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
