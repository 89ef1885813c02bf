package providers

import "crypto-gateway/models"

// MapBTCPayStatus maps a BTCPay webhook event type
func MapBTCPayStatus(eventType string) models.Status {
	switch eventType {
	case "InvoiceSettled", "InvoiceProcessing":
		return models.StatusConfirmed
	case "InvoiceExpired", "InvoiceInvalid":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// MapCoinbaseStatus maps a Coinbase Commerce event type
func MapCoinbaseStatus(eventType string) models.Status {
	switch eventType {
	case "charge:confirmed":
		return models.StatusConfirmed
	case "charge:failed", "charge:expired":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// MapCryptomusStatus maps a Cryptomus payment status
func MapCryptomusStatus(status string) models.Status {
	switch status {
	case "paid", "paid_over":
		return models.StatusConfirmed
	case "fail", "cancel":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// MapUnmappedStatus is used by providers whose event vocabulary has no agreed
// mapping yet (Binance Pay, PayPal). Their webhooks never move a transaction.
func MapUnmappedStatus(string) models.Status {
	return models.StatusPending
}
