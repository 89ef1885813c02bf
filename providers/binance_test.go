package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crypto-gateway/models"
	"crypto-gateway/signature"
)

func TestBinanceCreatePaymentSignsWireBytes(t *testing.T) {
	var headers http.Header
	var raw []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		raw, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"status":"SUCCESS","code":"000000","data":{"prepayId":"29383937493038367292","checkoutUrl":"https://pay.binance.com/checkout/x","qrcodeLink":"https://public.bnbstatic.com/qr.jpg"}}`))
	}))
	defer srv.Close()

	gw := testGateway(models.ProviderBinance, srv.URL)
	adapter, _ := New(models.ProviderBinance, NewClient(time.Second), testOptions())

	result, err := adapter.CreatePayment(context.Background(), paymentRequest(models.ProviderBinance, "12.5", "USDT"), gw)
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if headers.Get("BinancePay-Timestamp") != "1700000000000" {
		t.Errorf("unexpected timestamp %s", headers.Get("BinancePay-Timestamp"))
	}
	if headers.Get("BinancePay-Nonce") != "abcdefghijklmnopqrstuvwxyz012345" {
		t.Errorf("unexpected nonce %s", headers.Get("BinancePay-Nonce"))
	}
	if headers.Get("BinancePay-Certificate-SN") != "api-key" {
		t.Errorf("unexpected certificate sn %s", headers.Get("BinancePay-Certificate-SN"))
	}

	payload := signature.BinancePayload(headers.Get("BinancePay-Timestamp"), headers.Get("BinancePay-Nonce"), raw)
	want := strings.ToUpper(hexOf(signature.HMACSHA512(gw.SecretKey, payload)))
	if headers.Get("BinancePay-Signature") != want {
		t.Fatalf("signature does not cover the bytes sent")
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatal(err)
	}
	if body["totalFee"] != 12.5 {
		t.Errorf("totalFee should be a JSON number, got %#v", body["totalFee"])
	}
	if tradeNo, _ := body["merchantTradeNo"].(string); len(tradeNo) != 32 {
		t.Errorf("merchantTradeNo must be 32 characters, got %q", tradeNo)
	}

	if result.TransactionID != "29383937493038367292" || result.QRCode == "" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestBinanceCreatePaymentEnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FAIL","code":"400201","errorMessage":"invalid merchant"}`))
	}))
	defer srv.Close()

	adapter, _ := New(models.ProviderBinance, NewClient(time.Second), testOptions())
	_, err := adapter.CreatePayment(context.Background(), paymentRequest(models.ProviderBinance, "1", "USDT"), testGateway(models.ProviderBinance, srv.URL))

	var upErr *models.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestBinanceVerifyWebhook(t *testing.T) {
	adapter, _ := New(models.ProviderBinance, NewClient(time.Second), testOptions())
	gw := testGateway(models.ProviderBinance, "")
	body := `{"bizType":"PAY","bizId":29383937493038367292,"bizIdStr":"29383937493038367292","bizStatus":"PAY_SUCCESS","data":"{}"}`
	ts, nonce := "1700000000123", "n0nce"
	sig := hexOf(signature.HMACSHA512(gw.SecretKey, signature.BinancePayload(ts, nonce, []byte(body))))

	headers := map[string]string{
		"BinancePay-Timestamp": ts,
		"BinancePay-Nonce":     nonce,
		"BinancePay-Signature": strings.ToUpper(sig),
	}
	if !adapter.VerifyWebhook(context.Background(), webhookRequest(body, headers), gw) {
		t.Fatal("valid signature rejected")
	}

	headers["BinancePay-Nonce"] = "other"
	if adapter.VerifyWebhook(context.Background(), webhookRequest(body, headers), gw) {
		t.Fatal("signature bound to another nonce accepted")
	}

	delete(headers, "BinancePay-Timestamp")
	if adapter.VerifyWebhook(context.Background(), webhookRequest(body, headers), gw) {
		t.Fatal("missing timestamp accepted")
	}

	ev, err := adapter.ParseWebhook([]byte(body))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.ExternalID != "29383937493038367292" || ev.Event != "PAY_SUCCESS" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if adapter.MapStatus(ev.Event) != models.StatusPending {
		t.Fatal("binance events are not mapped")
	}
}
