package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"crypto-gateway/config"
	"crypto-gateway/logging"
	"crypto-gateway/models"
	"crypto-gateway/monitoring"
	"crypto-gateway/notify"
	"crypto-gateway/providers"
	"crypto-gateway/rates"
	"crypto-gateway/storage"
)

// PaymentService creates gateway payments and serves the payment history
type PaymentService struct {
	tracer    trace.Tracer
	gateways  config.GatewaySource
	providers *providers.Registry
	store     storage.TransactionStore
	rates     rates.Converter
	notifier  notify.Notifier
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	tracer trace.Tracer,
	gateways config.GatewaySource,
	registry *providers.Registry,
	store storage.TransactionStore,
	converter rates.Converter,
	notifier notify.Notifier,
) *PaymentService {
	return &PaymentService{
		tracer:    tracer,
		gateways:  gateways,
		providers: registry,
		store:     store,
		rates:     converter,
		notifier:  notifier,
	}
}

// GatewayInfo is the public description of an active gateway
type GatewayInfo struct {
	ID                  models.Provider `json:"id"`
	Name                string          `json:"name"`
	SupportedCurrencies []string        `json:"supportedCurrencies"`
	FeeRate             decimal.Decimal `json:"feeRate"`
	ProcessingTime      string          `json:"processingTime"`
}

// FeeEstimate is the fee a gateway would charge for an amount
type FeeEstimate struct {
	Gateway        models.Provider `json:"gateway"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Fee            decimal.Decimal `json:"fee"`
	FeePercent     decimal.Decimal `json:"feeRate"`
	Total          decimal.Decimal `json:"total"`
	ProcessingTime string          `json:"estimatedTime"`
}

// CreatePayment creates a payment at the requested gateway and records it as
// pending. Nothing is stored when the gateway call fails.
func (s *PaymentService) CreatePayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "create_payment")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment.user_id", req.UserID),
		attribute.String("payment.gateway", req.Provider.String()),
		attribute.String("payment.amount", req.Amount.String()),
		attribute.String("payment.currency", req.Currency),
		attribute.String("payment.purpose", string(req.Purpose)),
	)

	logger := logging.WithTraceContext(span)
	logger.Info("Creating payment",
		zap.String("user_id", req.UserID),
		zap.String("gateway", req.Provider.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency),
		zap.String("purpose", string(req.Purpose)),
	)

	gw, err := s.gateways.Gateway(ctx, req.Provider)
	if err != nil || !gw.Active {
		if err != nil && !errors.Is(err, config.ErrGatewayNotFound) {
			logger.Error("Gateway configuration lookup failed", zap.Error(err))
		}
		s.recordCreation(ctx, span, req, "unavailable")
		return nil, fmt.Errorf("%w: %s", models.ErrGatewayUnavailable, req.Provider)
	}

	adapter, err := s.providers.Provider(req.Provider)
	if err != nil {
		s.recordCreation(ctx, span, req, "unsupported")
		return nil, err
	}

	result, err := adapter.CreatePayment(ctx, req, gw)
	if err != nil {
		logger.Error("Payment creation failed",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("gateway", req.Provider.String()),
		)
		span.RecordError(err)
		s.recordCreation(ctx, span, req, "failed")
		return nil, err
	}

	usd, err := s.rates.ToUSD(ctx, req.Amount, req.Currency)
	if err != nil {
		logger.Warn("USD conversion failed, using nominal amount",
			zap.Error(err),
			zap.String("currency", req.Currency),
		)
		usd = req.Amount
	}

	now := time.Now().UTC()
	tx := models.Transaction{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Provider:      req.Provider,
		ExternalID:    result.TransactionID,
		Purpose:       req.Purpose,
		Amount:        req.Amount,
		Currency:      result.Currency,
		USDEquivalent: usd,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, &tx); err != nil {
		// The gateway payment exists but we have no record of it; the external
		// id in this log line is the only way to reconcile it by hand.
		logger.Error("Failed to persist created payment",
			zap.Error(err),
			zap.String("gateway", req.Provider.String()),
			zap.String("external_id", result.TransactionID),
			zap.String("user_id", req.UserID),
		)
		span.RecordError(err)
		s.recordCreation(ctx, span, req, "persist_failed")
		return nil, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	s.recordCreation(ctx, span, req, "success")
	usdFloat, _ := usd.Float64()
	monitoring.PaymentAmount.Record(ctx, usdFloat,
		metric.WithAttributes(
			attribute.String("gateway", req.Provider.String()),
			attribute.String("purpose", string(req.Purpose)),
		),
	)

	span.SetAttributes(
		attribute.String("payment.transaction_id", tx.ID),
		attribute.String("payment.external_id", tx.ExternalID),
	)

	if err := s.notifier.Publish(ctx, notify.PaymentCreated(tx, result)); err != nil {
		logger.Warn("Failed to publish payment event",
			zap.Error(err),
			zap.String("transaction_id", tx.ID),
		)
	}

	logger.Info("Payment created",
		zap.String("transaction_id", tx.ID),
		zap.String("external_id", tx.ExternalID),
		zap.String("gateway", req.Provider.String()),
	)
	return result, nil
}

func (s *PaymentService) recordCreation(ctx context.Context, span trace.Span, req models.PaymentRequest, status string) {
	monitoring.PaymentCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("gateway", req.Provider.String()),
			attribute.String("purpose", string(req.Purpose)),
			attribute.String("status", status),
		),
	)
	span.SetAttributes(attribute.String("payment.status", status))
	if status != "success" {
		span.SetStatus(codes.Error, status)
	}
}

// Gateways lists the active gateways
func (s *PaymentService) Gateways(ctx context.Context) ([]GatewayInfo, error) {
	all, err := s.gateways.Gateways(ctx)
	if err != nil {
		return nil, err
	}

	out := []GatewayInfo{}
	for _, gw := range all {
		if !gw.Active {
			continue
		}
		out = append(out, GatewayInfo{
			ID:                  gw.Provider,
			Name:                gw.DisplayName,
			SupportedCurrencies: gw.SupportedCurrencies,
			FeeRate:             gw.FeeRate,
			ProcessingTime:      gw.ProcessingTime,
		})
	}
	return out, nil
}

// Currencies returns the currency catalogue of an active gateway
func (s *PaymentService) Currencies(ctx context.Context, p models.Provider) ([]config.Currency, error) {
	gw, err := s.gateways.Gateway(ctx, p)
	if errors.Is(err, config.ErrGatewayNotFound) || (err == nil && !gw.Active) {
		return nil, fmt.Errorf("%w: %s", models.ErrGatewayUnavailable, p)
	}
	if err != nil {
		return nil, err
	}
	return gw.Currencies(), nil
}

// EstimateFee computes the gateway fee for amount. Gateways without any
// configuration fall back to the built-in catalogue.
func (s *PaymentService) EstimateFee(ctx context.Context, p models.Provider, amount decimal.Decimal, currency string) (*FeeEstimate, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	gw, err := s.gateways.Gateway(ctx, p)
	if errors.Is(err, config.ErrGatewayNotFound) {
		gw = config.DefaultGateway(p)
	} else if err != nil {
		return nil, err
	}
	if gw.DisplayName == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedGateway, p)
	}
	if !gw.Supports(currency) {
		return nil, fmt.Errorf("%w: %s does not accept %s", models.ErrUnsupportedCurrency, p, currency)
	}

	fee := amount.Mul(gw.FeeRate).Round(8)
	return &FeeEstimate{
		Gateway:        p,
		Amount:         amount,
		Currency:       currency,
		Fee:            fee,
		FeePercent:     gw.FeeRate.Mul(decimal.NewFromInt(100)),
		Total:          amount.Add(fee),
		ProcessingTime: gw.ProcessingTime,
	}, nil
}

// Transaction returns one of the user's transactions. Transactions owned by
// someone else are reported as not found.
func (s *PaymentService) Transaction(ctx context.Context, userID, id string) (*models.Transaction, error) {
	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return tx, nil
}

// Transactions returns the user's payment history, newest first
func (s *PaymentService) Transactions(ctx context.Context, userID string, f storage.ListFilter) ([]models.Transaction, error) {
	return s.store.ListByUser(ctx, userID, f)
}

// CoinBalance returns the user's coin balance
func (s *PaymentService) CoinBalance(ctx context.Context, userID string) (int64, error) {
	return s.store.CoinBalance(ctx, userID)
}
