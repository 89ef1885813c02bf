package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"crypto-gateway/config"
	"crypto-gateway/models"
	"crypto-gateway/signature"
)

// BTCPay talks to a BTCPay Server Greenfield API
type BTCPay struct {
	client *Client
	opts   Options
}

type btcpayInvoiceRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Metadata map[string]any  `json:"metadata"`
	Checkout btcpayCheckout  `json:"checkout"`
}

type btcpayCheckout struct {
	RedirectURL string `json:"redirectURL"`
}

type btcpayInvoiceResponse struct {
	ID           string `json:"id"`
	CheckoutLink string `json:"checkoutLink"`
}

type btcpayWebhook struct {
	Type      string `json:"type"`
	InvoiceID string `json:"invoiceId"`
}

func (b *BTCPay) Provider() models.Provider { return models.ProviderBTCPay }

// CreatePayment creates a store invoice
func (b *BTCPay) CreatePayment(ctx context.Context, req models.PaymentRequest, gw config.Gateway) (*models.PaymentResult, error) {
	if err := checkRequest(req, gw); err != nil {
		return nil, err
	}

	metadata := make(map[string]any, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["orderId"] = b.opts.orderID()
	metadata["userId"] = req.UserID
	metadata["purpose"] = req.Purpose

	body, err := encodeJSON(btcpayInvoiceRequest{
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
		Metadata: metadata,
		Checkout: btcpayCheckout{RedirectURL: b.opts.successURL()},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/stores/%s/invoices", gw.APIURL, gw.StoreID)
	r := b.client.request(ctx).
		SetHeader("Authorization", "Bearer "+gw.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	resp, err := b.client.execute(ctx, b.Provider(), "create_invoice", r, http.MethodPost, url)
	if err != nil {
		return nil, err
	}

	var invoice btcpayInvoiceResponse
	if err := decodeResponse(b.Provider(), resp, &invoice); err != nil {
		return nil, err
	}
	if invoice.ID == "" {
		return nil, &models.UpstreamError{Provider: b.Provider(), Err: fmt.Errorf("invoice id missing from response")}
	}

	return pendingResult(req, invoice.ID, invoice.CheckoutLink), nil
}

// VerifyWebhook checks the BTCPay-Sig HMAC-SHA256 over the raw body
func (b *BTCPay) VerifyWebhook(_ context.Context, req WebhookRequest, gw config.Gateway) bool {
	if gw.WebhookSecret == "" {
		return false
	}
	return signature.EqualHex(req.Header.Get("BTCPay-Sig"), signature.HMACSHA256(gw.WebhookSecret, req.Body))
}

func (b *BTCPay) ParseWebhook(body []byte) (WebhookEvent, error) {
	var payload btcpayWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	if payload.InvoiceID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: invoiceId missing", models.ErrMalformedPayload)
	}
	return WebhookEvent{ExternalID: payload.InvoiceID, Event: payload.Type}, nil
}

func (b *BTCPay) MapStatus(event string) models.Status {
	return MapBTCPayStatus(event)
}
