package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// CardDetails identifies the card to charge. The card itself is tokenized by
// the gateway's browser SDK; the server only ever sees the token.
type CardDetails struct {
	PaymentMethodID string
}

// IntentRequest describes a payment intent to open. Requests repeated with
// the same IdempotencyKey return the intent created by the first one.
type IntentRequest struct {
	AmountMinorUnits int64
	Currency         string
	PayerID          string
	IdempotencyKey   string
}

// Intent is a gateway payment intent awaiting confirmation.
type Intent struct {
	ID           string
	ClientSecret string
}

// Charge is the validated result of a settled card payment. PayerID is the
// payer the intent was opened for.
type Charge struct {
	TransactionID           string
	SettledAmountMinorUnits int64
	Currency                string
	LastFourDigits          string
	ReceiptURL              string
	PayerID                 string
}

// Gateway isolates the external card processor. Every failure is returned as
// a *GatewayError.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Confirm(ctx context.Context, clientSecret string, card CardDetails, billingEmail, idempotencyKey string) (*Charge, error)
	// Lookup fetches an intent server-to-gateway and returns its charge if it
	// has succeeded.
	Lookup(ctx context.Context, intentID string) (*Charge, error)
}

const payerMetadataKey = "payer_id"

// StripeGateway talks to the Stripe payment intents API.
type StripeGateway struct {
	intents *paymentintent.Client
}

// NewStripeGateway builds a gateway against baseURL. An empty baseURL uses
// the live Stripe API. Network retries are left to the settlement flow,
// which checks the intent status after a timeout.
func NewStripeGateway(baseURL, secretKey string, timeout time.Duration) *StripeGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}

	return &StripeGateway{
		intents: &paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
			Key: secretKey,
		},
	}
}

var (
	currencyPattern = regexp.MustCompile(`^[a-zA-Z]{3}$`)
	lastFourPattern = regexp.MustCompile(`^[0-9]{4}$`)
)

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, &GatewayError{Code: "invalid_amount", Message: "amount must be positive"}
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountMinorUnits),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if req.PayerID != "" {
		params.AddMetadata(payerMetadataKey, req.PayerID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, gatewayError(err)
	}
	if pi.Object != "payment_intent" || !strings.HasPrefix(pi.ID, "pi_") || pi.ClientSecret == "" {
		return nil, &GatewayError{Code: "unexpected_response", Message: "gateway returned an unexpected intent"}
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) Confirm(ctx context.Context, clientSecret string, card CardDetails, billingEmail, idempotencyKey string) (*Charge, error) {
	intentID, ok := IntentIDFromSecret(clientSecret)
	if !ok {
		return nil, &GatewayError{Code: "invalid_secret", Message: "client secret is invalid"}
	}
	if strings.TrimSpace(card.PaymentMethodID) == "" {
		return nil, &GatewayError{Code: "missing_card", Message: "card details are required"}
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(card.PaymentMethodID),
	}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if billingEmail != "" {
		params.ReceiptEmail = stripe.String(billingEmail)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	pi, err := g.intents.Confirm(intentID, params)
	if err != nil {
		return nil, gatewayError(err)
	}
	if pi.ID != intentID {
		return nil, &GatewayError{Code: "unexpected_response", Message: "gateway confirmed a different intent"}
	}
	return toCharge(pi)
}

func (g *StripeGateway) Lookup(ctx context.Context, intentID string) (*Charge, error) {
	if !strings.HasPrefix(intentID, "pi_") {
		return nil, &GatewayError{Code: "invalid_intent", Message: "payment intent id is invalid"}
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := g.intents.Get(intentID, params)
	if err != nil {
		return nil, gatewayError(err)
	}
	return toCharge(pi)
}

// toCharge validates the intent and converts it. Anything other than a
// settled payment intent is rejected.
func toCharge(pi *stripe.PaymentIntent) (*Charge, error) {
	if pi == nil || pi.Object != "payment_intent" || !strings.HasPrefix(pi.ID, "pi_") {
		return nil, &GatewayError{Code: "unexpected_response", Message: "gateway returned an unexpected object"}
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		status := string(pi.Status)
		return nil, &GatewayError{Code: status, Message: "payment was not completed (status " + status + ")"}
	}
	if pi.AmountReceived <= 0 {
		return nil, &GatewayError{Code: "unexpected_response", Message: "gateway reported no settled amount"}
	}
	currency := string(pi.Currency)
	if !currencyPattern.MatchString(currency) {
		return nil, &GatewayError{Code: "unexpected_response", Message: "gateway reported an invalid currency"}
	}

	charge := &Charge{
		TransactionID:           pi.ID,
		SettledAmountMinorUnits: pi.AmountReceived,
		Currency:                strings.ToUpper(currency),
		PayerID:                 pi.Metadata[payerMetadataKey],
	}

	// latest_charge only carries an id unless expanded.
	if ch := pi.LatestCharge; ch != nil {
		charge.ReceiptURL = ch.ReceiptURL
		if ch.PaymentMethodDetails != nil && ch.PaymentMethodDetails.Card != nil {
			last4 := ch.PaymentMethodDetails.Card.Last4
			if last4 != "" && !lastFourPattern.MatchString(last4) {
				return nil, &GatewayError{Code: "unexpected_response", Message: "gateway returned malformed card digits"}
			}
			charge.LastFourDigits = last4
		}
	}
	return charge, nil
}

// gatewayError maps a stripe-go failure onto GatewayError. Declines keep
// the processor's decline code and message.
func gatewayError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := string(stripeErr.DeclineCode)
		if code == "" {
			code = string(stripeErr.Code)
		}
		if code == "" {
			code = string(stripeErr.Type)
		}
		msg := stripeErr.Msg
		if msg == "" {
			msg = "payment processor rejected the request"
		}
		return &GatewayError{Code: code, Message: msg, Err: err}
	}
	return &GatewayError{
		Code:    "network",
		Message: "payment processor is unreachable",
		Timeout: isTimeout(err),
		Err:     err,
	}
}

// IntentIDFromSecret extracts "pi_123" from "pi_123_secret_abc".
func IntentIDFromSecret(secret string) (string, bool) {
	id, rest, found := strings.Cut(secret, "_secret_")
	if !found || rest == "" || !strings.HasPrefix(id, "pi_") {
		return "", false
	}
	return id, true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
