package providers

import (
	"testing"

	"crypto-gateway/models"
)

func TestStatusMappingTotality(t *testing.T) {
	tests := []struct {
		name      string
		mapper    func(string) models.Status
		confirmed []string
		failed    []string
	}{
		{
			name:      "btcpay",
			mapper:    MapBTCPayStatus,
			confirmed: []string{"InvoiceSettled", "InvoiceProcessing"},
			failed:    []string{"InvoiceExpired", "InvoiceInvalid"},
		},
		{
			name:      "coinbase",
			mapper:    MapCoinbaseStatus,
			confirmed: []string{"charge:confirmed"},
			failed:    []string{"charge:failed", "charge:expired"},
		},
		{
			name:      "cryptomus",
			mapper:    MapCryptomusStatus,
			confirmed: []string{"paid", "paid_over"},
			failed:    []string{"fail", "cancel"},
		},
	}

	other := []string{"", "InvoiceCreated", "charge:created", "charge:pending", "process", "confirm_check", "PAID", "anything else"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, ev := range tt.confirmed {
				if got := tt.mapper(ev); got != models.StatusConfirmed {
					t.Errorf("%q -> %s, want confirmed", ev, got)
				}
			}
			for _, ev := range tt.failed {
				if got := tt.mapper(ev); got != models.StatusFailed {
					t.Errorf("%q -> %s, want failed", ev, got)
				}
			}
			for _, ev := range other {
				if got := tt.mapper(ev); got != models.StatusPending {
					t.Errorf("%q -> %s, want pending", ev, got)
				}
			}
		})
	}
}

func TestUnmappedProvidersStayPending(t *testing.T) {
	for _, ev := range []string{"PAY_SUCCESS", "PAY_CLOSED", "CHECKOUT.ORDER.APPROVED", "PAYMENT.CAPTURE.COMPLETED"} {
		if got := MapUnmappedStatus(ev); got != models.StatusPending {
			t.Fatalf("%q -> %s, want pending", ev, got)
		}
	}
}
