package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crypto-gateway/models"
	"crypto-gateway/signature"
)

func TestBTCPayCreatePayment(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"inv_1","checkoutLink":"https://btcpay.example.org/i/inv_1"}`))
	}))
	defer srv.Close()

	adapter, _ := New(models.ProviderBTCPay, NewClient(time.Second), testOptions())
	req := paymentRequest(models.ProviderBTCPay, "50", "USDT")
	req.Metadata = map[string]any{"campaign": "spring", "userId": "spoofed"}

	result, err := adapter.CreatePayment(context.Background(), req, testGateway(models.ProviderBTCPay, srv.URL))
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if gotPath != "/api/v1/stores/store-1/invoices" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer api-key" {
		t.Errorf("unexpected Authorization %q", gotAuth)
	}
	if gotBody["amount"] != "50" || gotBody["currency"] != "USDT" {
		t.Errorf("unexpected body %v", gotBody)
	}
	meta, _ := gotBody["metadata"].(map[string]any)
	if meta["userId"] != "user-1" {
		t.Errorf("request metadata must not override userId, got %v", meta["userId"])
	}
	if meta["campaign"] != "spring" {
		t.Errorf("caller metadata dropped: %v", meta)
	}

	if result.TransactionID != "inv_1" || result.Status != models.StatusPending {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.PaymentURL != "https://btcpay.example.org/i/inv_1" {
		t.Fatalf("unexpected payment url %s", result.PaymentURL)
	}
}

func TestBTCPayCreatePaymentMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	adapter, _ := New(models.ProviderBTCPay, NewClient(time.Second), testOptions())
	_, err := adapter.CreatePayment(context.Background(), paymentRequest(models.ProviderBTCPay, "50", "USDT"), testGateway(models.ProviderBTCPay, srv.URL))

	var upErr *models.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestBTCPayVerifyWebhook(t *testing.T) {
	adapter, _ := New(models.ProviderBTCPay, NewClient(time.Second), testOptions())
	gw := testGateway(models.ProviderBTCPay, "")
	body := `{"deliveryId":"d1","type":"InvoiceSettled","invoiceId":"inv_1","storeId":"store-1"}`
	sig := "sha256=" + hexOf(signature.HMACSHA256(gw.WebhookSecret, []byte(body)))

	if !adapter.VerifyWebhook(context.Background(), webhookRequest(body, map[string]string{"BTCPay-Sig": sig}), gw) {
		t.Fatal("valid signature rejected")
	}

	tampered := `{"deliveryId":"d1","type":"InvoiceSettled","invoiceId":"inv_2","storeId":"store-1"}`
	if adapter.VerifyWebhook(context.Background(), webhookRequest(tampered, map[string]string{"BTCPay-Sig": sig}), gw) {
		t.Fatal("tampered body accepted")
	}

	wrong := gw
	wrong.WebhookSecret = "other"
	if adapter.VerifyWebhook(context.Background(), webhookRequest(body, map[string]string{"BTCPay-Sig": sig}), wrong) {
		t.Fatal("wrong secret accepted")
	}

	if adapter.VerifyWebhook(context.Background(), webhookRequest(body, nil), gw) {
		t.Fatal("missing header accepted")
	}

	noSecret := gw
	noSecret.WebhookSecret = ""
	emptySig := hexOf(signature.HMACSHA256("", []byte(body)))
	if adapter.VerifyWebhook(context.Background(), webhookRequest(body, map[string]string{"BTCPay-Sig": emptySig}), noSecret) {
		t.Fatal("unconfigured secret must never verify")
	}
}

func TestBTCPayParseWebhook(t *testing.T) {
	adapter, _ := New(models.ProviderBTCPay, NewClient(time.Second), testOptions())

	ev, err := adapter.ParseWebhook([]byte(`{"type":"InvoiceExpired","invoiceId":"inv_9"}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.ExternalID != "inv_9" || ev.Event != "InvoiceExpired" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if adapter.MapStatus(ev.Event) != models.StatusFailed {
		t.Fatal("InvoiceExpired should map to failed")
	}

	if _, err := adapter.ParseWebhook([]byte(`{"type":"InvoiceSettled"}`)); !errors.Is(err, models.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if _, err := adapter.ParseWebhook([]byte(`not json`)); !errors.Is(err, models.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
