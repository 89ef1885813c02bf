package providers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"crypto-gateway/config"
	"crypto-gateway/models"
	"crypto-gateway/signature"
)

const binanceAPIURL = "https://bpay.binanceapi.com"

// Binance talks to the Binance Pay merchant API
type Binance struct {
	client *Client
	opts   Options
}

type binanceOrderRequest struct {
	MerchantID      string      `json:"merchantId"`
	MerchantTradeNo string      `json:"merchantTradeNo"`
	TotalFee        json.Number `json:"totalFee"`
	Currency        string      `json:"currency"`
	ProductName     string      `json:"productName"`
	ProductDetail   string      `json:"productDetail"`
	ReturnURL       string      `json:"returnUrl"`
	WebhookURL      string      `json:"webhookUrl"`
}

type binanceOrderResponse struct {
	Status       string `json:"status"`
	Code         string `json:"code"`
	ErrorMessage string `json:"errorMessage"`
	Data         struct {
		PrepayID    string `json:"prepayId"`
		CheckoutURL string `json:"checkoutUrl"`
		QRCodeLink  string `json:"qrcodeLink"`
	} `json:"data"`
}

type binanceWebhook struct {
	BizType   string      `json:"bizType"`
	BizID     json.Number `json:"bizId"`
	BizIDStr  string      `json:"bizIdStr"`
	BizStatus string      `json:"bizStatus"`
}

func (b *Binance) Provider() models.Provider { return models.ProviderBinance }

// CreatePayment creates a Binance Pay order
func (b *Binance) CreatePayment(ctx context.Context, req models.PaymentRequest, gw config.Gateway) (*models.PaymentResult, error) {
	if err := checkRequest(req, gw); err != nil {
		return nil, err
	}

	body, err := encodeJSON(binanceOrderRequest{
		MerchantID: gw.MerchantID,
		// merchantTradeNo is limited to 32 alphanumerics
		MerchantTradeNo: strings.ReplaceAll(uuid.NewString(), "-", ""),
		TotalFee:        json.Number(req.Amount.String()),
		Currency:        strings.ToUpper(req.Currency),
		ProductName:     fmt.Sprintf("ChainGive %s", req.Purpose),
		ProductDetail:   fmt.Sprintf("ChainGive %s for user %s", req.Purpose, req.UserID),
		ReturnURL:       b.opts.successURL(),
		WebhookURL:      b.opts.webhookURL(b.Provider()),
	})
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(b.opts.Now().UnixMilli(), 10)
	nonce := b.opts.Nonce()
	sig := strings.ToUpper(hex.EncodeToString(
		signature.HMACSHA512(gw.SecretKey, signature.BinancePayload(timestamp, nonce, body)),
	))

	base := gw.APIURL
	if base == "" {
		base = binanceAPIURL
	}

	r := b.client.request(ctx).
		SetHeader("BinancePay-Timestamp", timestamp).
		SetHeader("BinancePay-Nonce", nonce).
		SetHeader("BinancePay-Certificate-SN", gw.APIKey).
		SetHeader("BinancePay-Signature", sig).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	resp, err := b.client.execute(ctx, b.Provider(), "create_order", r, http.MethodPost, base+"/binancepay/openapi/v2/order")
	if err != nil {
		return nil, err
	}

	var order binanceOrderResponse
	if err := decodeResponse(b.Provider(), resp, &order); err != nil {
		return nil, err
	}
	if order.Status != "SUCCESS" || order.Data.PrepayID == "" {
		return nil, &models.UpstreamError{
			Provider: b.Provider(),
			Err:      fmt.Errorf("order rejected: code %s: %s", order.Code, order.ErrorMessage),
		}
	}

	result := pendingResult(req, order.Data.PrepayID, order.Data.CheckoutURL)
	result.QRCode = order.Data.QRCodeLink
	return result, nil
}

// VerifyWebhook checks BinancePay-Signature, an HMAC-SHA512 over
// "timestamp\nnonce\nbody\n"
func (b *Binance) VerifyWebhook(_ context.Context, req WebhookRequest, gw config.Gateway) bool {
	timestamp := req.Header.Get("BinancePay-Timestamp")
	nonce := req.Header.Get("BinancePay-Nonce")
	if gw.SecretKey == "" || timestamp == "" || nonce == "" {
		return false
	}
	expected := signature.HMACSHA512(gw.SecretKey, signature.BinancePayload(timestamp, nonce, req.Body))
	return signature.EqualHex(req.Header.Get("BinancePay-Signature"), expected)
}

func (b *Binance) ParseWebhook(body []byte) (WebhookEvent, error) {
	var payload binanceWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	id := payload.BizIDStr
	if id == "" {
		id = payload.BizID.String()
	}
	if id == "" {
		return WebhookEvent{}, fmt.Errorf("%w: bizId missing", models.ErrMalformedPayload)
	}
	return WebhookEvent{ExternalID: id, Event: payload.BizStatus}, nil
}

// MapStatus has no agreed mapping for Binance Pay events yet
func (b *Binance) MapStatus(event string) models.Status {
	return MapUnmappedStatus(event)
}
