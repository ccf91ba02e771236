package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const maxGatewayResponseBytes = 1 << 20

// MercadoPagoClient talks to the Mercado Pago REST API with a bearer access token
type MercadoPagoClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	backoff     func() retry.Backoff
}

func NewMercadoPagoClient(baseURL, accessToken string, httpClient *http.Client) *MercadoPagoClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &MercadoPagoClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  httpClient,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
		},
	}
}

// CreatePreference creates a checkout preference. It is not retried: a
// timeout after the provider accepted the request would create a second one.
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preference: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build preference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", uuid.NewString())

	var pref Preference
	if err := c.do(httpReq, "create preference", &pref); err != nil {
		return nil, err
	}
	return &pref, nil
}

// GetPayment reads a payment. Network failures and 5xx answers are retried
// with exponential backoff.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*GatewayPayment, error) {
	endpoint := c.baseURL + "/v1/payments/" + url.PathEscape(paymentID)

	var payment GatewayPayment
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to build payment request: %w", err)
		}

		err = c.do(httpReq, "get payment", &payment)
		var gwErr *GatewayError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &gwErr) && gwErr.StatusCode < http.StatusInternalServerError:
			return err
		default:
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *MercadoPagoClient) do(req *http.Request, operation string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment gateway %s: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponseBytes))
	if err != nil {
		return fmt.Errorf("payment gateway %s: failed to read response: %w", operation, err)
	}

	if resp.StatusCode == http.StatusNotFound && req.Method == http.MethodGet {
		return ErrPaymentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GatewayError{Operation: operation, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payment gateway %s: failed to decode response: %w", operation, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
