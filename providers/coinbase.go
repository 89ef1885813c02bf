package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"crypto-gateway/config"
	"crypto-gateway/models"
	"crypto-gateway/signature"
)

const coinbaseAPIURL = "https://api.commerce.coinbase.com"

// Coinbase talks to the Coinbase Commerce charges API
type Coinbase struct {
	client *Client
	opts   Options
}

type coinbaseChargeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  coinbaseMoney     `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
	RedirectURL string            `json:"redirect_url"`
	CancelURL   string            `json:"cancel_url"`
}

type coinbaseMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type coinbaseChargeResponse struct {
	Data struct {
		ID        string            `json:"id"`
		HostedURL string            `json:"hosted_url"`
		Addresses map[string]string `json:"addresses"`
	} `json:"data"`
}

type coinbaseWebhook struct {
	Event *struct {
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"event"`
	Data *struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Coinbase) Provider() models.Provider { return models.ProviderCoinbase }

// CreatePayment creates a fixed-price charge
func (c *Coinbase) CreatePayment(ctx context.Context, req models.PaymentRequest, gw config.Gateway) (*models.PaymentResult, error) {
	if err := checkRequest(req, gw); err != nil {
		return nil, err
	}

	body, err := encodeJSON(coinbaseChargeRequest{
		Name:        fmt.Sprintf("ChainGive %s", req.Purpose),
		Description: fmt.Sprintf("%s for user %s", req.Purpose, req.UserID),
		PricingType: "fixed_price",
		LocalPrice: coinbaseMoney{
			Amount:   req.Amount.String(),
			Currency: strings.ToUpper(req.Currency),
		},
		Metadata: map[string]string{
			"userId":  req.UserID,
			"purpose": string(req.Purpose),
		},
		RedirectURL: c.opts.successURL(),
		CancelURL:   c.opts.cancelURL(),
	})
	if err != nil {
		return nil, err
	}

	base := gw.APIURL
	if base == "" {
		base = coinbaseAPIURL
	}

	r := c.client.request(ctx).
		SetHeader("X-CC-Api-Key", gw.APIKey).
		SetHeader("X-CC-Version", "2018-03-22").
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	resp, err := c.client.execute(ctx, c.Provider(), "create_charge", r, http.MethodPost, base+"/charges")
	if err != nil {
		return nil, err
	}

	var charge coinbaseChargeResponse
	if err := decodeResponse(c.Provider(), resp, &charge); err != nil {
		return nil, err
	}
	if charge.Data.ID == "" {
		return nil, &models.UpstreamError{Provider: c.Provider(), Err: fmt.Errorf("charge id missing from response")}
	}

	result := pendingResult(req, charge.Data.ID, charge.Data.HostedURL)
	if addr, ok := charge.Data.Addresses[strings.ToLower(coinbaseNetwork(req.Currency))]; ok {
		result.Address = addr
	}
	return result, nil
}

// coinbaseNetwork returns the key Coinbase uses in the addresses map
func coinbaseNetwork(currency string) string {
	switch strings.ToUpper(currency) {
	case "BTC":
		return "bitcoin"
	case "ETH":
		return "ethereum"
	case "LTC":
		return "litecoin"
	case "BCH":
		return "bitcoincash"
	case "USDC":
		return "usdc"
	}
	return currency
}

// VerifyWebhook checks X-CC-Webhook-Signature, an HMAC-SHA256 over the raw body
func (c *Coinbase) VerifyWebhook(_ context.Context, req WebhookRequest, gw config.Gateway) bool {
	if gw.WebhookSecret == "" {
		return false
	}
	return signature.EqualHex(req.Header.Get("X-CC-Webhook-Signature"), signature.HMACSHA256(gw.WebhookSecret, req.Body))
}

func (c *Coinbase) ParseWebhook(body []byte) (WebhookEvent, error) {
	var payload coinbaseWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	if payload.Event == nil {
		return WebhookEvent{}, fmt.Errorf("%w: event missing", models.ErrMalformedPayload)
	}

	id := payload.Event.Data.ID
	if id == "" && payload.Data != nil {
		id = payload.Data.ID
	}
	if id == "" {
		return WebhookEvent{}, fmt.Errorf("%w: charge id missing", models.ErrMalformedPayload)
	}
	return WebhookEvent{ExternalID: id, Event: payload.Event.Type}, nil
}

func (c *Coinbase) MapStatus(event string) models.Status {
	return MapCoinbaseStatus(event)
}
