// Package verification talks to the external Solana Pay verification service.
package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/resilience"
)

const maxBodyBytes = 1 << 20

var (
	// ErrRequestFailed wraps transport failures, exhausted 5xx retries and an open breaker.
	ErrRequestFailed = errors.New("verification: request failed")
	// ErrMalformedResponse is returned when the service answers with a body that is not JSON.
	ErrMalformedResponse = errors.New("verification: malformed response")
)

// Result is a verification reply. Body holds the raw bytes so callers can pass it through unchanged.
type Result struct {
	Success bool
	Body    json.RawMessage
}

// Client calls the verification service endpoints.
type Client struct {
	BaseURL string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger
}

// NewHTTPClient builds the instrumented transport shared by the server and CLI callers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Verify asks the service whether a payment matching query has landed on chain.
func (c *Client) Verify(ctx context.Context, query url.Values) (Result, error) {
	ctx, span := otel.Tracer("verification.Client").Start(ctx, "Verification.Verify")
	defer span.End()

	endpoint, err := c.endpoint("", query)
	if err != nil {
		return Result{}, err
	}
	body, err := c.get(ctx, "verify", endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return Result{}, err
	}
	res, err := decodeResult(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("verification.reference", query.Get("reference")),
		attribute.Bool("verification.success", res.Success),
	)
	return res, nil
}

// MintReference requests a fresh payment reference from the service.
func (c *Client) MintReference(ctx context.Context) (string, error) {
	ctx, span := otel.Tracer("verification.Client").Start(ctx, "Verification.MintReference")
	defer span.End()

	var payload struct {
		Reference string `json:"reference"`
	}
	if err := c.getJSON(ctx, "reference", "reference", &payload); err != nil {
		span.RecordError(err)
		return "", err
	}
	if strings.TrimSpace(payload.Reference) == "" {
		return "", fmt.Errorf("%w: empty reference", ErrMalformedResponse)
	}
	return payload.Reference, nil
}

// AuthToken fetches the access token the wallet path hands to its transaction submitter.
func (c *Client) AuthToken(ctx context.Context) (string, error) {
	ctx, span := otel.Tracer("verification.Client").Start(ctx, "Verification.AuthToken")
	defer span.End()

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.getJSON(ctx, "auth", "auth", &payload); err != nil {
		span.RecordError(err)
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrMalformedResponse)
	}
	return payload.AccessToken, nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, out any) error {
	endpoint, err := c.endpoint(path, nil)
	if err != nil {
		return err
	}
	body, err := c.get(ctx, operation, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, operation, endpoint string) ([]byte, error) {
	start := time.Now()
	result := "error"
	defer func() {
		obs.IncCounter(obs.VerificationRequestTotal, operation, result)
		obs.ObserveMillis(obs.VerificationRequestLatency, obs.DurationMillis(time.Since(start)), operation)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		c.Logger.Warn().Err(err).Str("operation", operation).Msg("verification_request_failed")
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	result = "ok"
	return body, nil
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		return "", fmt.Errorf("%w: base url not configured", ErrRequestFailed)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	}
	if query != nil {
		q := u.Query()
		for key, values := range query {
			q[key] = values
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// decodeResult validates the body and detects a strict boolean success flag.
func decodeResult(body []byte) (Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return Result{}, ErrMalformedResponse
	}
	res := Result{Body: json.RawMessage(trimmed)}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		// Valid JSON that is not an object cannot carry a success flag.
		return res, nil
	}
	if raw, ok := fields["success"]; ok && string(bytes.TrimSpace(raw)) == "true" {
		res.Success = true
	}
	return res, nil
}
