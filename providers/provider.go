// Package providers contains one adapter per crypto payment gateway. Each
// adapter creates payments through the gateway API, verifies the gateway's
// webhook signatures and maps its status vocabulary onto models.Status.
package providers

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"crypto-gateway/config"
	"crypto-gateway/models"
)

// PaymentProvider is the capability every gateway adapter implements
type PaymentProvider interface {
	Provider() models.Provider
	CreatePayment(ctx context.Context, req models.PaymentRequest, gw config.Gateway) (*models.PaymentResult, error)
	VerifyWebhook(ctx context.Context, req WebhookRequest, gw config.Gateway) bool
	ParseWebhook(body []byte) (WebhookEvent, error)
	MapStatus(event string) models.Status
}

// WebhookRequest is an inbound provider callback exactly as received
type WebhookRequest struct {
	Body   []byte
	Header http.Header
}

// WebhookEvent is the part of a webhook payload the reconciler needs
type WebhookEvent struct {
	ExternalID string
	Event      string
}

// Options carries the settings shared by all adapters
type Options struct {
	APIBaseURL  string
	FrontendURL string
	OrderPrefix string

	Now   func() time.Time
	Nonce func() string

	// VerifyBackOff builds the retry policy for remote webhook verification
	VerifyBackOff func() backoff.BackOff
}

func (o Options) withDefaults() Options {
	if o.OrderPrefix == "" {
		o.OrderPrefix = "chaingive"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Nonce == nil {
		o.Nonce = randomNonce
	}
	if o.VerifyBackOff == nil {
		o.VerifyBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return backoff.WithMaxRetries(b, 2)
		}
	}
	return o
}

func (o Options) orderID() string {
	return o.OrderPrefix + "-" + uuid.NewString()
}

func (o Options) successURL() string {
	return o.FrontendURL + "/payment/success"
}

func (o Options) cancelURL() string {
	return o.FrontendURL + "/payment/cancel"
}

func (o Options) webhookURL(p models.Provider) string {
	return o.APIBaseURL + "/webhooks/" + p.String()
}

// New builds the adapter for p
func New(p models.Provider, client *Client, opts Options) (PaymentProvider, error) {
	opts = opts.withDefaults()

	switch p {
	case models.ProviderBTCPay:
		return &BTCPay{client: client, opts: opts}, nil
	case models.ProviderCoinbase:
		return &Coinbase{client: client, opts: opts}, nil
	case models.ProviderCryptomus:
		return &Cryptomus{client: client, opts: opts}, nil
	case models.ProviderBinance:
		return &Binance{client: client, opts: opts}, nil
	case models.ProviderPayPal:
		return &PayPal{client: client, opts: opts}, nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedGateway, p)
}

// Registry holds one adapter per provider
type Registry struct {
	mu        sync.RWMutex
	providers map[models.Provider]PaymentProvider
}

// NewRegistry creates a registry containing every supported adapter
func NewRegistry(client *Client, opts Options) *Registry {
	r := &Registry{providers: make(map[models.Provider]PaymentProvider)}
	for _, p := range models.Providers {
		pp, err := New(p, client, opts)
		if err != nil {
			continue
		}
		r.providers[p] = pp
	}
	return r
}

// Register adds or replaces an adapter
func (r *Registry) Register(pp PaymentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providers == nil {
		r.providers = make(map[models.Provider]PaymentProvider)
	}
	r.providers[pp.Provider()] = pp
}

// Provider returns the adapter for p
func (r *Registry) Provider(p models.Provider) (PaymentProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pp, ok := r.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedGateway, p)
	}
	return pp, nil
}

func checkRequest(req models.PaymentRequest, gw config.Gateway) error {
	if !req.Amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	if !gw.Supports(req.Currency) {
		return fmt.Errorf("%w: %s does not accept %s", models.ErrUnsupportedCurrency, gw.Provider, req.Currency)
	}
	return nil
}

func pendingResult(req models.PaymentRequest, externalID, paymentURL string) *models.PaymentResult {
	return &models.PaymentResult{
		TransactionID: externalID,
		PaymentURL:    paymentURL,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		Status:        models.StatusPending,
	}
}

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomNonce returns 32 random alphanumeric characters
func randomNonce() string {
	b := make([]byte, 32)
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = nonceAlphabet[n.Int64()]
	}
	return string(b)
}
