package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrInvalidMetadata = errors.New("payment metadata is missing or invalid")
	ErrGateway         = errors.New("payment gateway request failed")
)

// GatewayError is a non-success answer from the payment provider
type GatewayError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Gateway is the payment provider
type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
}

// PreferenceRequest is a checkout preference in the Mercado Pago format
type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	Payer             Payer            `json:"payer"`
	BackURLs          BackURLs         `json:"back_urls"`
	AutoReturn        string           `json:"auto_return,omitempty"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	ExternalReference string           `json:"external_reference,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
}

type PreferenceItem struct {
	ID          string  `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	CurrencyID  string  `json:"currency_id"`
	UnitPrice   float64 `json:"unit_price"`
}

type Payer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// Preference is the created checkout
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// GatewayPayment is the provider's view of a payment
type GatewayPayment struct {
	ID                FlexibleID     `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail"`
	TransactionAmount float64        `json:"transaction_amount"`
	CurrencyID        string         `json:"currency_id"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
}

// FlexibleID accepts ids sent either as JSON numbers or strings
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string { return string(id) }

// Gateway statuses grouped by what they mean for the ledger.
const (
	GatewayStatusApproved = "approved"
)

// transactionStatus maps a gateway status to the stored transaction status.
// ok is false for statuses that carry no ledger meaning.
func transactionStatus(gatewayStatus string) (status string, ok bool) {
	switch gatewayStatus {
	case GatewayStatusApproved:
		return StatusCompleted, true
	case "pending", "in_process", "authorized", "in_mediation":
		return StatusPending, true
	case "rejected", "cancelled", "refunded", "charged_back":
		return StatusFailed, true
	default:
		return "", false
	}
}

func metadataString(metadata map[string]any, key string) (string, bool) {
	switch v := metadata[key].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

func metadataInt(metadata map[string]any, key string) (int64, bool) {
	raw, ok := metadataString(metadata, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
