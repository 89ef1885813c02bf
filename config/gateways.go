package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"crypto-gateway/models"
)

// ErrGatewayNotFound is returned when a provider has no configuration at all
var ErrGatewayNotFound = errors.New("gateway not configured")

// Gateway holds the per-provider credentials and catalogue data
type Gateway struct {
	Provider       models.Provider `yaml:"provider"`
	Active         bool            `yaml:"active"`
	DisplayName    string          `yaml:"display_name"`
	ProcessingTime string          `yaml:"processing_time"`
	FeeRate        decimal.Decimal `yaml:"fee_rate"`

	APIURL  string `yaml:"api_url,omitempty"`
	StoreID string `yaml:"store_id,omitempty"`

	APIKey        string `yaml:"api_key,omitempty"`
	SecretKey     string `yaml:"secret_key,omitempty"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
	MerchantID    string `yaml:"merchant_id,omitempty"`
	ClientID      string `yaml:"client_id,omitempty"`
	ClientSecret  string `yaml:"client_secret,omitempty"`
	WebhookID     string `yaml:"webhook_id,omitempty"`

	SupportedCurrencies []string `yaml:"supported_currencies"`
}

// Supports reports whether the gateway accepts the given currency code
func (g Gateway) Supports(currency string) bool {
	for _, c := range g.SupportedCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// Redacted returns a copy with every secret masked
func (g Gateway) Redacted() Gateway {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	g.APIKey = mask(g.APIKey)
	g.SecretKey = mask(g.SecretKey)
	g.WebhookSecret = mask(g.WebhookSecret)
	g.ClientSecret = mask(g.ClientSecret)
	return g
}

func (g Gateway) hasCredentials() bool {
	return g.APIKey != "" || g.SecretKey != "" || g.WebhookSecret != "" || g.ClientID != ""
}

// GatewaySource resolves gateway configuration per request
type GatewaySource interface {
	Gateway(ctx context.Context, p models.Provider) (Gateway, error)
	Gateways(ctx context.Context) ([]Gateway, error)
}

// StaticGateways is a GatewaySource backed by a fixed map
type StaticGateways map[models.Provider]Gateway

func (s StaticGateways) Gateway(_ context.Context, p models.Provider) (Gateway, error) {
	g, ok := s[p]
	if !ok {
		return Gateway{}, fmt.Errorf("%w: %s", ErrGatewayNotFound, p)
	}
	return g, nil
}

func (s StaticGateways) Gateways(_ context.Context) ([]Gateway, error) {
	out := make([]Gateway, 0, len(s))
	for _, g := range s {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// DefaultGateway returns the catalogue entry for a provider without credentials
func DefaultGateway(p models.Provider) Gateway {
	g := Gateway{Provider: p}
	switch p {
	case models.ProviderBTCPay:
		g.DisplayName = "BTCPay Server"
		g.SupportedCurrencies = []string{"BTC", "LTC", "ETH", "USDT", "USD"}
		g.FeeRate = decimal.RequireFromString("0.005")
		g.ProcessingTime = "10-60 minutes"
	case models.ProviderCoinbase:
		g.DisplayName = "Coinbase Commerce"
		g.SupportedCurrencies = []string{"BTC", "ETH", "LTC", "BCH", "USDC", "USD"}
		g.FeeRate = decimal.RequireFromString("0.01")
		g.ProcessingTime = "5-30 minutes"
	case models.ProviderCryptomus:
		g.DisplayName = "Cryptomus"
		g.SupportedCurrencies = []string{"BTC", "ETH", "USDT", "USDC", "TRX", "USD"}
		g.FeeRate = decimal.RequireFromString("0.008")
		g.ProcessingTime = "5-20 minutes"
	case models.ProviderBinance:
		g.DisplayName = "Binance Pay"
		g.SupportedCurrencies = []string{"BTC", "ETH", "BNB", "USDT", "BUSD"}
		g.FeeRate = decimal.RequireFromString("0.003")
		g.ProcessingTime = "1-10 minutes"
	case models.ProviderPayPal:
		g.DisplayName = "PayPal Crypto"
		g.SupportedCurrencies = []string{"BTC", "ETH", "LTC", "BCH", "USD"}
		g.FeeRate = decimal.RequireFromString("0.023")
		g.ProcessingTime = "1-5 minutes"
	}
	return g
}

var gatewayKeys = []string{
	"active", "display_name", "processing_time", "fee_rate", "api_url", "store_id",
	"api_key", "secret_key", "webhook_secret", "merchant_id", "client_id",
	"client_secret", "webhook_id", "supported_currencies",
}

// LoadGateways reads gateway configuration from an optional YAML file keyed by
// provider name, with <PROVIDER>_<FIELD> environment variables taking
// precedence (e.g. BTCPAY_WEBHOOK_SECRET). Providers with neither file entries
// nor credentials are left out.
func LoadGateways(path string) (StaticGateways, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read gateways file: %w", err)
		}
	}

	gateways := make(StaticGateways)
	for _, p := range models.Providers {
		prefix := p.String()
		for _, k := range gatewayKeys {
			if err := v.BindEnv(prefix + "." + k); err != nil {
				return nil, err
			}
		}

		g := DefaultGateway(p)
		g.APIURL = strings.TrimSuffix(v.GetString(prefix+".api_url"), "/")
		g.StoreID = v.GetString(prefix + ".store_id")
		g.APIKey = v.GetString(prefix + ".api_key")
		g.SecretKey = v.GetString(prefix + ".secret_key")
		g.WebhookSecret = v.GetString(prefix + ".webhook_secret")
		g.MerchantID = v.GetString(prefix + ".merchant_id")
		g.ClientID = v.GetString(prefix + ".client_id")
		g.ClientSecret = v.GetString(prefix + ".client_secret")
		g.WebhookID = v.GetString(prefix + ".webhook_id")

		if s := v.GetString(prefix + ".display_name"); s != "" {
			g.DisplayName = s
		}
		if s := v.GetString(prefix + ".processing_time"); s != "" {
			g.ProcessingTime = s
		}
		if s := v.GetString(prefix + ".fee_rate"); s != "" {
			rate, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("%s.fee_rate: %w", prefix, err)
			}
			g.FeeRate = rate
		}
		if cs := v.GetStringSlice(prefix + ".supported_currencies"); len(cs) > 0 {
			g.SupportedCurrencies = normalizeCurrencies(cs)
		}

		if !v.IsSet(prefix) && !g.hasCredentials() {
			continue
		}

		g.Active = g.hasCredentials()
		if v.IsSet(prefix + ".active") {
			g.Active = v.GetBool(prefix + ".active")
		}
		gateways[p] = g
	}

	return gateways, nil
}

func normalizeCurrencies(in []string) []string {
	var out []string
	for _, c := range in {
		for _, part := range strings.Split(c, ",") {
			if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
