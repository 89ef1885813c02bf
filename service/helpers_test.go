package service

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"crypto-gateway/config"
	"crypto-gateway/models"
	"crypto-gateway/notify"
	"crypto-gateway/providers"
	"crypto-gateway/rates"
	"crypto-gateway/signature"
	"crypto-gateway/storage"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

func testGateway(p models.Provider, apiURL string) config.Gateway {
	g := config.DefaultGateway(p)
	g.Active = true
	g.APIURL = apiURL
	g.StoreID = "store-1"
	g.APIKey = "api-key"
	g.SecretKey = "secret-key"
	g.WebhookSecret = "webhook-secret"
	g.MerchantID = "merchant-1"
	g.ClientID = "client-id"
	g.ClientSecret = "client-secret"
	g.WebhookID = "WH-1"
	return g
}

func allGateways(apiURL string) config.StaticGateways {
	out := config.StaticGateways{}
	for _, p := range models.Providers {
		out[p] = testGateway(p, apiURL)
	}
	return out
}

func testRegistry() *providers.Registry {
	return providers.NewRegistry(providers.NewClient(2*time.Second), providers.Options{
		APIBaseURL:  "https://api.example.org",
		FrontendURL: "https://app.example.org",
		VerifyBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
		},
	})
}

// recordingNotifier keeps published events and optionally fails
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

// memoryGuard is an in-process idempotency.Guard that, like a network
// client, fails on a cancelled context
type memoryGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{keys: make(map[string]bool)}
}

func (g *memoryGuard) Seen(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[key], nil
}

func (g *memoryGuard) Remember(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = true
	return nil
}

func (g *memoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

// failingStore wraps the memory store and fails selected operations
type failingStore struct {
	*storage.Memory
	createErr error
	applyErr  error
}

func (s *failingStore) Create(ctx context.Context, tx *models.Transaction) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Memory.Create(ctx, tx)
}

func (s *failingStore) Apply(ctx context.Context, t storage.Transition) (storage.ApplyResult, error) {
	if s.applyErr != nil {
		return storage.ApplyResult{}, s.applyErr
	}
	return s.Memory.Apply(ctx, t)
}

// stubProvider is a PaymentProvider whose creation result is fixed
type stubProvider struct {
	provider models.Provider
	result   *models.PaymentResult
	err      error
	calls    int
}

func (s *stubProvider) Provider() models.Provider { return s.provider }

func (s *stubProvider) CreatePayment(_ context.Context, req models.PaymentRequest, _ config.Gateway) (*models.PaymentResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.Amount = req.Amount
	return &r, nil
}

func (s *stubProvider) VerifyWebhook(context.Context, providers.WebhookRequest, config.Gateway) bool {
	return false
}

func (s *stubProvider) ParseWebhook([]byte) (providers.WebhookEvent, error) {
	return providers.WebhookEvent{}, errors.New("not implemented")
}

func (s *stubProvider) MapStatus(string) models.Status { return models.StatusPending }

func newPaymentService(gateways config.GatewaySource, registry *providers.Registry, store storage.TransactionStore, n notify.Notifier) *PaymentService {
	return NewPaymentService(testTracer, gateways, registry, store, rates.DefaultRates(), n)
}

func seedPending(store storage.TransactionStore, p models.Provider, externalID, userID string, purpose models.Purpose, usd string) *models.Transaction {
	now := time.Now().UTC()
	tx := &models.Transaction{
		ID:            externalID + "-local",
		UserID:        userID,
		Provider:      p,
		ExternalID:    externalID,
		Purpose:       purpose,
		Amount:        decimal.RequireFromString(usd),
		Currency:      "USDT",
		USDEquivalent: decimal.RequireFromString(usd),
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.Create(context.Background(), tx); err != nil {
		panic(err)
	}
	return tx
}

func hmacHeader(secret, body string) string {
	return hex.EncodeToString(signature.HMACSHA256(secret, []byte(body)))
}

func headers(kv ...string) http.Header {
	h := make(http.Header)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}
