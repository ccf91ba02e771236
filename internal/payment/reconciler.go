package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/tutorhub/lessons-api/internal/account"
	"github.com/tutorhub/lessons-api/internal/catalog"
	"github.com/tutorhub/lessons-api/internal/logging"
	"github.com/tutorhub/lessons-api/internal/metrics"
)

// Webhook outcomes, used as the metrics label
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomePending   = "pending"
	OutcomeFailed    = "failed"
	OutcomeIgnored   = "ignored"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Metadata keys attached to every preference. Mercado Pago stores metadata
// keys in snake_case, so these survive the round trip unchanged.
const (
	metaAccountID   = "account_id"
	metaPackageID   = "package_id"
	metaLessonCount = "lesson_count"
)

// PackageReader looks up a package that is on sale
type PackageReader interface {
	GetActive(ctx context.Context, id int64) (*catalog.Package, error)
}

// AccountReader looks up the buyer
type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

// TransactionStore persists payment events
type TransactionStore interface {
	Apply(ctx context.Context, ev PaymentEvent) (bool, error)
}

// Settings are the deployment values that end up in every preference
type Settings struct {
	AppURL   string
	Currency string
	Sandbox  bool
}

// Checkout is the hosted checkout the client is redirected to
type Checkout struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Status is the gateway's view of a payment
type Status struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Reconciler turns gateway payments into lesson credits
type Reconciler struct {
	packages     PackageReader
	accounts     AccountReader
	gateway      Gateway
	transactions TransactionStore
	settings     Settings
	metrics      *metrics.Metrics
	logger       *logging.Logger
}

func NewReconciler(
	packages PackageReader,
	accounts AccountReader,
	gateway Gateway,
	transactions TransactionStore,
	settings Settings,
	m *metrics.Metrics,
	logger *logging.Logger,
) *Reconciler {
	return &Reconciler{
		packages:     packages,
		accounts:     accounts,
		gateway:      gateway,
		transactions: transactions,
		settings:     settings,
		metrics:      m,
		logger:       logger,
	}
}

// CreateCheckout opens a checkout for one package. The ledger is only
// touched once the gateway reports the payment approved.
func (r *Reconciler) CreateCheckout(ctx context.Context, accountID uuid.UUID, packageID int64) (*Checkout, error) {
	pkg, err := r.packages.GetActive(ctx, packageID)
	if err != nil {
		return nil, err
	}

	buyer, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	currency := pkg.Currency
	if currency == "" {
		currency = r.settings.Currency
	}

	req := PreferenceRequest{
		Items: []PreferenceItem{{
			ID:          strconv.FormatInt(pkg.ID, 10),
			Title:       fmt.Sprintf("Pacote de %d aulas", pkg.LessonCount),
			Description: pkg.Description,
			Quantity:    1,
			CurrencyID:  currency,
			UnitPrice:   float64(pkg.PriceCents) / 100,
		}},
		Payer: Payer{Email: buyer.Email, Name: buyer.Name},
		BackURLs: BackURLs{
			Success: r.settings.AppURL + "/payment-success",
			Failure: r.settings.AppURL + "/payment-cancel",
			Pending: r.settings.AppURL + "/payment-pending",
		},
		AutoReturn:        "approved",
		NotificationURL:   r.settings.AppURL + "/payment/webhook",
		ExternalReference: accountID.String(),
		Metadata: map[string]any{
			metaAccountID:   accountID.String(),
			metaPackageID:   strconv.FormatInt(pkg.ID, 10),
			metaLessonCount: strconv.Itoa(pkg.LessonCount),
		},
	}

	pref, err := r.gateway.CreatePreference(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	url := pref.InitPoint
	if r.settings.Sandbox && pref.SandboxInitPoint != "" {
		url = pref.SandboxInitPoint
	}

	r.logger.Info("checkout created",
		"account_id", accountID,
		"package_id", pkg.ID,
		"preference_id", pref.ID,
	)
	return &Checkout{SessionID: pref.ID, URL: url}, nil
}

// HandleNotification processes one webhook notification. Types other than
// payment are acknowledged without action.
func (r *Reconciler) HandleNotification(ctx context.Context, notificationType, paymentID string) (string, error) {
	if notificationType != "payment" {
		r.metrics.RecordWebhookEvent(OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	gw, err := r.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		r.metrics.RecordWebhookEvent(OutcomeError)
		return OutcomeError, err
	}

	return r.ApplyPaymentEvent(ctx, gw)
}

// RecordRejectedNotification counts a notification that failed authentication
func (r *Reconciler) RecordRejectedNotification() {
	r.metrics.RecordWebhookEvent(OutcomeInvalid)
}

// ApplyPaymentEvent records the gateway payment and credits the account when
// it is approved. Applying the same approved payment again is a no-op.
func (r *Reconciler) ApplyPaymentEvent(ctx context.Context, gw *GatewayPayment) (string, error) {
	logger := r.logger.WithFields(map[string]any{
		"payment_id":     gw.ID.String(),
		"gateway_status": gw.Status,
	})

	status, ok := transactionStatus(gw.Status)
	if !ok {
		logger.Info("payment status carries no ledger change")
		r.metrics.RecordWebhookEvent(OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	ev, err := eventFromPayment(gw, status)
	if err != nil {
		logger.Warn("payment metadata rejected", "error", err.Error())
		r.metrics.RecordWebhookEvent(OutcomeInvalid)
		return OutcomeInvalid, err
	}

	applied, err := r.transactions.Apply(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrInvalidMetadata) {
			logger.Warn("payment references an unknown account", "account_id", ev.AccountID)
			r.metrics.RecordWebhookEvent(OutcomeInvalid)
			return OutcomeInvalid, err
		}
		r.metrics.RecordWebhookEvent(OutcomeError)
		return OutcomeError, oops.Code("PAYMENT_APPLY_FAILED").
			With("payment_id", ev.ExternalPaymentID).
			With("account_id", ev.AccountID).
			Wrap(err)
	}

	outcome := outcomeFor(status, applied)
	if outcome == OutcomeApplied {
		logger.Info("payment applied", "account_id", ev.AccountID, "lessons", ev.LessonCount)
	}
	r.metrics.RecordWebhookEvent(outcome)
	return outcome, nil
}

// CheckStatus reads a payment from the gateway. Payments that belong to
// another account are reported as not found.
func (r *Reconciler) CheckStatus(ctx context.Context, accountID uuid.UUID, paymentID string) (*Status, error) {
	gw, err := r.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	owner, ok := metadataString(gw.Metadata, metaAccountID)
	if !ok || owner != accountID.String() {
		return nil, ErrPaymentNotFound
	}

	return &Status{Status: gw.Status, Detail: gw.StatusDetail}, nil
}

func outcomeFor(status string, applied bool) string {
	switch status {
	case StatusCompleted:
		if applied {
			return OutcomeApplied
		}
		return OutcomeDuplicate
	case StatusPending:
		return OutcomePending
	default:
		return OutcomeFailed
	}
}

func eventFromPayment(gw *GatewayPayment, status string) (PaymentEvent, error) {
	if gw.ID == "" {
		return PaymentEvent{}, fmt.Errorf("%w: payment id is empty", ErrInvalidMetadata)
	}

	rawAccount, ok := metadataString(gw.Metadata, metaAccountID)
	if !ok {
		return PaymentEvent{}, fmt.Errorf("%w: %s is missing", ErrInvalidMetadata, metaAccountID)
	}
	accountID, err := uuid.Parse(rawAccount)
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %s is not a uuid", ErrInvalidMetadata, metaAccountID)
	}

	lessons, ok := metadataInt(gw.Metadata, metaLessonCount)
	if !ok || lessons <= 0 || lessons > math.MaxInt32 {
		return PaymentEvent{}, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidMetadata, metaLessonCount)
	}

	ev := PaymentEvent{
		ExternalPaymentID: gw.ID.String(),
		Status:            status,
		AccountID:         accountID,
		LessonCount:       int(lessons),
		AmountCents:       int64(math.Round(gw.TransactionAmount * 100)),
	}
	if packageID, ok := metadataInt(gw.Metadata, metaPackageID); ok {
		ev.PackageID = &packageID
	}
	return ev, nil
}
