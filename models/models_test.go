package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseProvider(t *testing.T) {
	for _, p := range Providers {
		got, err := ParseProvider(p.String())
		if err != nil {
			t.Fatalf("ParseProvider(%q) returned error: %v", p, err)
		}
		if got != p {
			t.Fatalf("ParseProvider(%q) = %v", p, got)
		}
	}

	if _, err := ParseProvider(" BTCPay "); err != nil {
		t.Fatalf("expected case-insensitive match, got %v", err)
	}

	_, err := ParseProvider("stripe")
	if !errors.Is(err, ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
}

func TestProviderJSON(t *testing.T) {
	var req PaymentRequest
	body := `{"user_id":"u1","amount":"50","currency":"USDT","gateway":"cryptomus","purpose":"coin_purchase"}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Provider != ProviderCryptomus {
		t.Fatalf("expected cryptomus, got %v", req.Provider)
	}

	out, err := json.Marshal(Transaction{Provider: ProviderPayPal})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["gateway"] != "paypal" {
		t.Fatalf("expected gateway paypal, got %v", decoded["gateway"])
	}
}

func TestTransactionCoins(t *testing.T) {
	tests := []struct {
		name    string
		purpose Purpose
		usd     string
		want    int64
	}{
		{"whole", PurposeCoinPurchase, "50", 50},
		{"floors fraction", PurposeCoinPurchase, "49.99", 49},
		{"below one", PurposeCoinPurchase, "0.75", 0},
		{"donation earns nothing", PurposeDonation, "100", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := Transaction{Purpose: tt.purpose, USDEquivalent: decimal.RequireFromString(tt.usd)}
			if got := tx.Coins(); got != tt.want {
				t.Fatalf("Coins() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Fatal("pending must not be terminal")
	}
	if !StatusConfirmed.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("confirmed and failed must be terminal")
	}
}
