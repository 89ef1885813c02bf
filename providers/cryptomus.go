package providers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"crypto-gateway/config"
	"crypto-gateway/models"
	"crypto-gateway/signature"
)

const cryptomusAPIURL = "https://api.cryptomus.com"

// Cryptomus talks to the Cryptomus merchant API. Requests and webhooks are
// signed with md5(base64(body) + apiKey).
type Cryptomus struct {
	client *Client
	opts   Options
}

type cryptomusPaymentRequest struct {
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	OrderID           string `json:"order_id"`
	URLReturn         string `json:"url_return"`
	URLCallback       string `json:"url_callback"`
	IsPaymentMultiple bool   `json:"is_payment_multiple"`
	Lifetime          int    `json:"lifetime"`
	AdditionalData    string `json:"additional_data"`
}

type cryptomusPaymentResponse struct {
	State  int `json:"state"`
	Result struct {
		UUID    string `json:"uuid"`
		URL     string `json:"url"`
		Address string `json:"address"`
	} `json:"result"`
}

type cryptomusWebhook struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

func (c *Cryptomus) Provider() models.Provider { return models.ProviderCryptomus }

// CreatePayment creates an invoice that lives for two hours
func (c *Cryptomus) CreatePayment(ctx context.Context, req models.PaymentRequest, gw config.Gateway) (*models.PaymentResult, error) {
	if err := checkRequest(req, gw); err != nil {
		return nil, err
	}

	additional, err := encodeJSON(map[string]string{
		"userId":  req.UserID,
		"purpose": string(req.Purpose),
	})
	if err != nil {
		return nil, err
	}

	body, err := encodeJSON(cryptomusPaymentRequest{
		Amount:            req.Amount.String(),
		Currency:          strings.ToUpper(req.Currency),
		OrderID:           c.opts.orderID(),
		URLReturn:         c.opts.successURL(),
		URLCallback:       c.opts.webhookURL(c.Provider()),
		IsPaymentMultiple: false,
		Lifetime:          7200,
		AdditionalData:    string(additional),
	})
	if err != nil {
		return nil, err
	}

	base := gw.APIURL
	if base == "" {
		base = cryptomusAPIURL
	}

	// The signature covers the exact bytes sent
	r := c.client.request(ctx).
		SetHeader("merchant", gw.MerchantID).
		SetHeader("sign", hex.EncodeToString(signature.CryptomusSign(body, gw.APIKey))).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	resp, err := c.client.execute(ctx, c.Provider(), "create_payment", r, http.MethodPost, base+"/v1/payment")
	if err != nil {
		return nil, err
	}

	var payment cryptomusPaymentResponse
	if err := decodeResponse(c.Provider(), resp, &payment); err != nil {
		return nil, err
	}
	if payment.State != 0 || payment.Result.UUID == "" {
		return nil, &models.UpstreamError{Provider: c.Provider(), Err: fmt.Errorf("payment not created, state %d", payment.State)}
	}

	result := pendingResult(req, payment.Result.UUID, payment.Result.URL)
	result.Address = payment.Result.Address
	return result, nil
}

// VerifyWebhook checks the sign header against md5(base64(raw body) + apiKey)
func (c *Cryptomus) VerifyWebhook(_ context.Context, req WebhookRequest, gw config.Gateway) bool {
	if gw.APIKey == "" {
		return false
	}
	return signature.EqualHex(req.Header.Get("sign"), signature.CryptomusSign(req.Body, gw.APIKey))
}

func (c *Cryptomus) ParseWebhook(body []byte) (WebhookEvent, error) {
	var payload cryptomusWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	if payload.UUID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: uuid missing", models.ErrMalformedPayload)
	}
	return WebhookEvent{ExternalID: payload.UUID, Event: payload.Status}, nil
}

func (c *Cryptomus) MapStatus(event string) models.Status {
	return MapCryptomusStatus(event)
}
