package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crypto-gateway/config"
	"crypto-gateway/models"
	"crypto-gateway/notify"
	"crypto-gateway/storage"
)

func btcpayServer(t *testing.T, invoiceID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"` + invoiceID + `","checkoutLink":"https://btcpay.example.org/i/` + invoiceID + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func coinPurchase(p models.Provider, amount, currency string) models.PaymentRequest {
	return models.PaymentRequest{
		UserID:   "user-1",
		Amount:   decimal.RequireFromString(amount),
		Currency: currency,
		Provider: p,
		Purpose:  models.PurposeCoinPurchase,
	}
}

func TestCreatePaymentBTCPay(t *testing.T) {
	srv := btcpayServer(t, "inv_1")
	store := storage.NewMemory()
	n := &recordingNotifier{}
	svc := newPaymentService(allGateways(srv.URL), testRegistry(), store, n)

	result, err := svc.CreatePayment(context.Background(), coinPurchase(models.ProviderBTCPay, "50", "USDT"))
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if result.TransactionID != "inv_1" || result.Status != models.StatusPending {
		t.Fatalf("unexpected result %+v", result)
	}

	tx, err := store.GetByExternalID(context.Background(), models.ProviderBTCPay, "inv_1")
	if err != nil {
		t.Fatalf("transaction not stored: %v", err)
	}
	if tx.Status != models.StatusPending || !tx.USDEquivalent.Equal(decimal.NewFromInt(50)) || tx.UserID != "user-1" {
		t.Fatalf("unexpected stored transaction %+v", tx)
	}

	events := n.Events()
	if len(events) != 1 || events[0].Type != notify.EventPaymentCreated {
		t.Fatalf("expected one payment.created event, got %+v", events)
	}
	if events[0].Message != "ChainGive: Your 50 USDT BTCPay invoice is ready. Pay here: https://btcpay.example.org/i/inv_1" {
		t.Fatalf("unexpected message %q", events[0].Message)
	}
}

func TestCreatePaymentConvertsToUSD(t *testing.T) {
	srv := btcpayServer(t, "inv_btc")
	store := storage.NewMemory()
	svc := newPaymentService(allGateways(srv.URL), testRegistry(), store, &recordingNotifier{})

	if _, err := svc.CreatePayment(context.Background(), coinPurchase(models.ProviderBTCPay, "0.001", "BTC")); err != nil {
		t.Fatal(err)
	}
	tx, _ := store.GetByExternalID(context.Background(), models.ProviderBTCPay, "inv_btc")
	if !tx.USDEquivalent.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("usd equivalent = %s, want 45", tx.USDEquivalent)
	}
}

func TestCreatePaymentGatewayUnavailable(t *testing.T) {
	stub := &stubProvider{provider: models.ProviderCoinbase, result: &models.PaymentResult{TransactionID: "x"}}
	registry := testRegistry()
	registry.Register(stub)

	inactive := testGateway(models.ProviderCoinbase, "")
	inactive.Active = false

	tests := []struct {
		name     string
		gateways config.StaticGateways
	}{
		{"missing", config.StaticGateways{}},
		{"inactive", config.StaticGateways{models.ProviderCoinbase: inactive}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemory()
			svc := newPaymentService(tt.gateways, registry, store, &recordingNotifier{})

			_, err := svc.CreatePayment(context.Background(), coinPurchase(models.ProviderCoinbase, "10", "USDC"))
			if !errors.Is(err, models.ErrGatewayUnavailable) {
				t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
			}
			if stub.calls != 0 {
				t.Fatal("adapter must not be called")
			}
		})
	}
}

func TestCreatePaymentUnsupportedGateway(t *testing.T) {
	gateways := config.StaticGateways{models.Provider(9): {Provider: models.Provider(9), Active: true}}
	svc := newPaymentService(gateways, testRegistry(), storage.NewMemory(), &recordingNotifier{})

	_, err := svc.CreatePayment(context.Background(), coinPurchase(models.Provider(9), "10", "USD"))
	if !errors.Is(err, models.ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
}

func TestCreatePaymentUpstreamErrorPersistsNothing(t *testing.T) {
	stub := &stubProvider{
		provider: models.ProviderCryptomus,
		err:      &models.UpstreamError{Provider: models.ProviderCryptomus, StatusCode: http.StatusServiceUnavailable, Err: errors.New("down")},
	}
	registry := testRegistry()
	registry.Register(stub)
	store := storage.NewMemory()
	n := &recordingNotifier{}
	svc := newPaymentService(allGateways(""), registry, store, n)

	_, err := svc.CreatePayment(context.Background(), coinPurchase(models.ProviderCryptomus, "10", "USDT"))
	var upErr *models.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}

	txs, _ := store.ListByUser(context.Background(), "user-1", storage.ListFilter{})
	if len(txs) != 0 {
		t.Fatalf("upstream failure stored %d transactions", len(txs))
	}
	if len(n.Events()) != 0 {
		t.Fatal("upstream failure must not notify")
	}
}

func TestCreatePaymentTimeoutPersistsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	store := storage.NewMemory()
	svc := newPaymentService(allGateways(srv.URL), testRegistry(), store, &recordingNotifier{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := svc.CreatePayment(ctx, coinPurchase(models.ProviderBTCPay, "50", "USDT"))

	var upErr *models.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	txs, _ := store.ListByUser(context.Background(), "user-1", storage.ListFilter{})
	if len(txs) != 0 {
		t.Fatalf("timeout stored %d transactions", len(txs))
	}
}

func TestCreatePaymentPersistenceFailure(t *testing.T) {
	srv := btcpayServer(t, "inv_1")
	store := &failingStore{Memory: storage.NewMemory(), createErr: errors.New("disk full")}
	n := &recordingNotifier{}
	svc := newPaymentService(allGateways(srv.URL), testRegistry(), store, n)

	result, err := svc.CreatePayment(context.Background(), coinPurchase(models.ProviderBTCPay, "50", "USDT"))
	if !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if result != nil {
		t.Fatal("no result may be returned when persistence fails")
	}
	if len(n.Events()) != 0 {
		t.Fatal("persistence failure must not notify")
	}
}

func TestCreatePaymentNotifierFailureIsNotFatal(t *testing.T) {
	srv := btcpayServer(t, "inv_1")
	svc := newPaymentService(allGateways(srv.URL), testRegistry(), storage.NewMemory(), &recordingNotifier{err: errors.New("broker down")})

	if _, err := svc.CreatePayment(context.Background(), coinPurchase(models.ProviderBTCPay, "50", "USDT")); err != nil {
		t.Fatalf("notification failure surfaced: %v", err)
	}
}

func TestGatewaysListsActiveOnly(t *testing.T) {
	gateways := allGateways("")
	off := gateways[models.ProviderPayPal]
	off.Active = false
	gateways[models.ProviderPayPal] = off

	svc := newPaymentService(gateways, testRegistry(), storage.NewMemory(), &recordingNotifier{})
	list, err := svc.Gateways(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 4 {
		t.Fatalf("got %d gateways, want 4", len(list))
	}
	for _, g := range list {
		if g.ID == models.ProviderPayPal {
			t.Fatal("inactive gateway listed")
		}
		if g.Name == "" || len(g.SupportedCurrencies) == 0 {
			t.Fatalf("incomplete gateway info %+v", g)
		}
	}
}

func TestCurrencies(t *testing.T) {
	gateways := allGateways("")
	off := gateways[models.ProviderPayPal]
	off.Active = false
	gateways[models.ProviderPayPal] = off
	svc := newPaymentService(gateways, testRegistry(), storage.NewMemory(), &recordingNotifier{})
	ctx := context.Background()

	currencies, err := svc.Currencies(ctx, models.ProviderBTCPay)
	if err != nil {
		t.Fatal(err)
	}
	if len(currencies) != 5 || currencies[0].Symbol != "BTC" || currencies[0].Confirmations != 3 {
		t.Fatalf("unexpected catalogue %+v", currencies)
	}

	if _, err := svc.Currencies(ctx, models.ProviderPayPal); !errors.Is(err, models.ErrGatewayUnavailable) {
		t.Fatalf("inactive gateway err = %v", err)
	}
	delete(gateways, models.ProviderBinance)
	if _, err := svc.Currencies(ctx, models.ProviderBinance); !errors.Is(err, models.ErrGatewayUnavailable) {
		t.Fatalf("unconfigured gateway err = %v", err)
	}
}

func TestEstimateFee(t *testing.T) {
	svc := newPaymentService(config.StaticGateways{models.ProviderBTCPay: testGateway(models.ProviderBTCPay, "")}, testRegistry(), storage.NewMemory(), &recordingNotifier{})
	ctx := context.Background()

	est, err := svc.EstimateFee(ctx, models.ProviderBTCPay, decimal.NewFromInt(100), "USDT")
	if err != nil {
		t.Fatal(err)
	}
	if !est.Fee.Equal(decimal.RequireFromString("0.5")) || !est.Total.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("unexpected estimate %+v", est)
	}
	if !est.FeePercent.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("fee percent = %s, want 0.5", est.FeePercent)
	}

	// Unconfigured gateways use the built-in catalogue
	est, err = svc.EstimateFee(ctx, models.ProviderPayPal, decimal.NewFromInt(100), "USD")
	if err != nil {
		t.Fatal(err)
	}
	if !est.Fee.Equal(decimal.RequireFromString("2.3")) {
		t.Fatalf("paypal fee = %s, want 2.3", est.Fee)
	}

	if _, err := svc.EstimateFee(ctx, models.ProviderBTCPay, decimal.NewFromInt(100), "DOGE"); !errors.Is(err, models.ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
	if _, err := svc.EstimateFee(ctx, models.ProviderBTCPay, decimal.Zero, "USDT"); !errors.Is(err, models.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransactionOwnership(t *testing.T) {
	store := storage.NewMemory()
	tx := seedPending(store, models.ProviderBTCPay, "inv_1", "user-1", models.PurposeCoinPurchase, "50")
	svc := newPaymentService(allGateways(""), testRegistry(), store, &recordingNotifier{})

	if _, err := svc.Transaction(context.Background(), "user-1", tx.ID); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if _, err := svc.Transaction(context.Background(), "user-2", tx.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
}
