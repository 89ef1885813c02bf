package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"crypto-gateway/config"
	"crypto-gateway/logging"
	"crypto-gateway/models"
)

const payPalAPIURL = "https://api-m.paypal.com"

// PayPal talks to the PayPal REST API. It has no shared-secret webhook
// scheme: every webhook is verified by a remote call authenticated with an
// OAuth2 client-credentials token.
type PayPal struct {
	client *Client
	opts   Options

	mu       sync.Mutex
	token    string
	tokenKey string
	expires  time.Time
}

type payPalToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type payPalOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []payPalPurchaseUnit `json:"purchase_units"`
	PaymentSource payPalPaymentSource  `json:"payment_source"`
}

type payPalPurchaseUnit struct {
	Amount      payPalAmount `json:"amount"`
	Description string       `json:"description"`
}

type payPalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payPalPaymentSource struct {
	PayPal struct {
		ExperienceContext payPalExperienceContext `json:"experience_context"`
	} `json:"paypal"`
}

type payPalExperienceContext struct {
	PaymentMethodPreference string `json:"payment_method_preference"`
	BrandName               string `json:"brand_name"`
	Locale                  string `json:"locale"`
	LandingPage             string `json:"landing_page"`
	ShippingPreference      string `json:"shipping_preference"`
	UserAction              string `json:"user_action"`
	ReturnURL               string `json:"return_url"`
	CancelURL               string `json:"cancel_url"`
}

type payPalOrderResponse struct {
	ID    string `json:"id"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type payPalVerifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type payPalVerifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

type payPalWebhook struct {
	EventType string `json:"event_type"`
	CertURL   string `json:"cert_url"`
	AuthAlgo  string `json:"auth_algo"`
	Resource  struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (p *PayPal) Provider() models.Provider { return models.ProviderPayPal }

func (p *PayPal) baseURL(gw config.Gateway) string {
	if gw.APIURL != "" {
		return gw.APIURL
	}
	return payPalAPIURL
}

// accessToken returns a cached client-credentials token, fetching a new one
// when the cached token is missing, expiring, or belongs to other credentials.
func (p *PayPal) accessToken(ctx context.Context, gw config.Gateway) (string, error) {
	key := p.baseURL(gw) + "|" + gw.ClientID

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.tokenKey == key && p.opts.Now().Before(p.expires) {
		return p.token, nil
	}

	r := p.client.request(ctx).
		SetBasicAuth(gw.ClientID, gw.ClientSecret).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody("grant_type=client_credentials")

	resp, err := p.client.execute(ctx, p.Provider(), "oauth_token", r, http.MethodPost, p.baseURL(gw)+"/v1/oauth2/token")
	if err != nil {
		return "", err
	}

	var tok payPalToken
	if err := decodeResponse(p.Provider(), resp, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", &models.UpstreamError{Provider: p.Provider(), Err: errors.New("access token missing from response")}
	}

	// Refresh a minute early so a token never expires mid-request
	p.token = tok.AccessToken
	p.tokenKey = key
	p.expires = p.opts.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return p.token, nil
}

func (p *PayPal) invalidateToken() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

// CreatePayment creates a CAPTURE order and returns its approval link
func (p *PayPal) CreatePayment(ctx context.Context, req models.PaymentRequest, gw config.Gateway) (*models.PaymentResult, error) {
	if err := checkRequest(req, gw); err != nil {
		return nil, err
	}

	token, err := p.accessToken(ctx, gw)
	if err != nil {
		return nil, err
	}

	order := payPalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []payPalPurchaseUnit{{
			Amount: payPalAmount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        req.Amount.String(),
			},
			Description: fmt.Sprintf("ChainGive %s", req.Purpose),
		}},
	}
	order.PaymentSource.PayPal.ExperienceContext = payPalExperienceContext{
		PaymentMethodPreference: "IMMEDIATE_PAYMENT_REQUIRED",
		BrandName:               "ChainGive",
		Locale:                  "en-NG",
		LandingPage:             "LOGIN",
		ShippingPreference:      "NO_SHIPPING",
		UserAction:              "PAY_NOW",
		ReturnURL:               p.opts.successURL(),
		CancelURL:               p.opts.cancelURL(),
	}

	body, err := encodeJSON(order)
	if err != nil {
		return nil, err
	}

	r := p.client.request(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	resp, err := p.client.execute(ctx, p.Provider(), "create_order", r, http.MethodPost, p.baseURL(gw)+"/v2/checkout/orders")
	if err != nil {
		return nil, err
	}

	var created payPalOrderResponse
	if err := decodeResponse(p.Provider(), resp, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, &models.UpstreamError{Provider: p.Provider(), Err: errors.New("order id missing from response")}
	}

	var approveURL string
	for _, link := range created.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}

	return pendingResult(req, created.ID, approveURL), nil
}

// VerifyWebhook asks PayPal to verify the transmission. Transient failures are
// retried with backoff; anything still failing counts as not verified.
func (p *PayPal) VerifyWebhook(ctx context.Context, req WebhookRequest, gw config.Gateway) bool {
	transmissionSig := req.Header.Get("PayPal-Transmission-Sig")
	transmissionID := req.Header.Get("PayPal-Transmission-Id")
	transmissionTime := req.Header.Get("PayPal-Transmission-Time")
	if gw.ClientID == "" || gw.ClientSecret == "" || transmissionSig == "" || transmissionID == "" || transmissionTime == "" {
		return false
	}
	if !json.Valid(req.Body) {
		return false
	}

	var event payPalWebhook
	_ = json.Unmarshal(req.Body, &event)

	verifyBody, err := encodeJSON(payPalVerifyRequest{
		AuthAlgo:         firstNonEmpty(req.Header.Get("PayPal-Auth-Algo"), event.AuthAlgo),
		CertURL:          firstNonEmpty(req.Header.Get("PayPal-Cert-Url"), event.CertURL),
		TransmissionID:   transmissionID,
		TransmissionSig:  transmissionSig,
		TransmissionTime: transmissionTime,
		WebhookID:        gw.WebhookID,
		WebhookEvent:     json.RawMessage(req.Body),
	})
	if err != nil {
		return false
	}

	var verified bool
	op := func() error {
		ok, err := p.verifyOnce(ctx, gw, verifyBody)
		if err != nil {
			var upErr *models.UpstreamError
			if errors.As(err, &upErr) && upErr.StatusCode == http.StatusUnauthorized {
				p.invalidateToken()
				return err
			}
			if errors.As(err, &upErr) && upErr.StatusCode >= 400 && upErr.StatusCode < 500 && upErr.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		verified = ok
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(p.opts.VerifyBackOff(), ctx)); err != nil {
		logging.FromContext(ctx).Error("PayPal webhook verification failed",
			zap.Error(err),
			zap.String("transmission_id", transmissionID),
		)
		return false
	}
	return verified
}

func (p *PayPal) verifyOnce(ctx context.Context, gw config.Gateway, body []byte) (bool, error) {
	token, err := p.accessToken(ctx, gw)
	if err != nil {
		return false, err
	}

	r := p.client.request(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	resp, err := p.client.execute(ctx, p.Provider(), "verify_webhook", r, http.MethodPost, p.baseURL(gw)+"/v1/notifications/verify-webhook-signature")
	if err != nil {
		return false, err
	}

	var result payPalVerifyResponse
	if err := decodeResponse(p.Provider(), resp, &result); err != nil {
		return false, backoff.Permanent(err)
	}
	return result.VerificationStatus == "SUCCESS", nil
}

// ParseWebhook extracts the order id. Capture events carry the capture id in
// resource.id and the order id under supplementary_data.
func (p *PayPal) ParseWebhook(body []byte) (WebhookEvent, error) {
	var payload payPalWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	id := firstNonEmpty(payload.Resource.SupplementaryData.RelatedIDs.OrderID, payload.Resource.ID)
	if id == "" {
		return WebhookEvent{}, fmt.Errorf("%w: resource id missing", models.ErrMalformedPayload)
	}
	return WebhookEvent{ExternalID: id, Event: payload.EventType}, nil
}

// MapStatus has no agreed mapping for PayPal events yet
func (p *PayPal) MapStatus(event string) models.Status {
	return MapUnmappedStatus(event)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
