package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"crypto-gateway/models"
	"crypto-gateway/monitoring"
)

// Client performs outbound provider calls. Every call is bounded by the
// client timeout and never retried here.
type Client struct {
	http *resty.Client
}

// NewClient creates an instrumented HTTP client for provider calls
func NewClient(timeout time.Duration) *Client {
	rc := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetTimeout(timeout)
	return &Client{http: rc}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// execute sends req and returns the response body of a 2xx reply. Transport
// failures and other status codes become *models.UpstreamError.
func (c *Client) execute(ctx context.Context, p models.Provider, op string, req *resty.Request, method, url string) ([]byte, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("external.service", p.String()),
		attribute.String("external.operation", op),
	)

	start := time.Now()
	resp, err := req.Execute(method, url)
	duration := time.Since(start).Seconds()

	if err != nil {
		recordCall(ctx, p, op, "error", duration)
		span.SetAttributes(attribute.String("external.status", "error"))
		return nil, &models.UpstreamError{Provider: p, Err: err}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		recordCall(ctx, p, op, "failed", duration)
		span.SetAttributes(
			attribute.Int("external.status_code", resp.StatusCode()),
			attribute.String("external.status", "failed"),
		)
		return nil, &models.UpstreamError{
			Provider:   p,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("%s: %s", op, truncate(resp.String(), 256)),
		}
	}

	recordCall(ctx, p, op, "success", duration)
	span.SetAttributes(attribute.String("external.status", "success"))
	return resp.Body(), nil
}

func recordCall(ctx context.Context, p models.Provider, op, status string, seconds float64) {
	monitoring.ExternalCallDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("gateway", p.String()),
			attribute.String("operation", op),
			attribute.String("status", status),
		),
	)
}

// encodeJSON marshals v exactly as it will be sent on the wire. Providers that
// sign the body must sign these bytes, so HTML escaping and the encoder's
// trailing newline are both turned off.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeResponse(p models.Provider, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &models.UpstreamError{Provider: p, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
