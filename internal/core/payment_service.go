package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/metrics"
	"github.com/tattoostencil/studio/internal/store"
)

const (
	paymentCurrency       = "usd"
	eventPaymentSucceeded = "payment_intent.succeeded"

	metadataUserID  = "userId"
	metadataCredits = "credits"
)

var ErrInvalidSignature = errors.New("webhook signature verification failed")

// BillingProvider is the subset of the payment processor the service needs.
type BillingProvider interface {
	CreateCustomer(ctx context.Context, user *store.User) (string, error)
	CreatePaymentIntent(ctx context.Context, customerID string, amountCents int64, metadata map[string]string) (string, error)
}

type stripeBilling struct {
	api *client.API
}

func NewStripeBilling(secretKey string) BillingProvider {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &stripeBilling{api: sc}
}

func (b *stripeBilling) CreateCustomer(ctx context.Context, user *store.User) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.DisplayName()),
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, user.ID)
	cus, err := b.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return cus.ID, nil
}

func (b *stripeBilling) CreatePaymentIntent(ctx context.Context, customerID string, amountCents int64, metadata map[string]string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(paymentCurrency),
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := b.api.PaymentIntents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ClientSecret, nil
}

type PaymentService struct {
	dbStore       *store.SQLiteStore
	billing       BillingProvider
	webhookSecret string
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func NewPaymentService(db *store.SQLiteStore, billing BillingProvider, webhookSecret string, m *metrics.Metrics, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		dbStore:       db,
		billing:       billing,
		webhookSecret: webhookSecret,
		metrics:       m,
		logger:        logger,
	}
}

// CreateIntent starts a purchase of credits for amount dollars and returns
// the client secret the browser confirms the payment with.
func (s *PaymentService) CreateIntent(ctx context.Context, userID string, amount float64, credits int) (string, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if credits <= 0 {
		return "", fmt.Errorf("%w: credits must be positive", ErrInvalidInput)
	}
	cents := int64(math.Round(amount * 100))
	if cents <= 0 {
		return "", fmt.Errorf("%w: amount must be at least one cent", ErrInvalidInput)
	}

	user, err := s.dbStore.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	secret, err := s.billing.CreatePaymentIntent(ctx, customerID, cents, map[string]string{
		metadataUserID:  userID,
		metadataCredits: strconv.Itoa(credits),
	})
	if err != nil {
		s.logger.Error("Failed to create payment intent", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("%w: error creating payment intent: %v", ErrUpstream, err)
	}

	s.logger.Info("Created payment intent",
		zap.String("user_id", userID),
		zap.Int64("amount_cents", cents),
		zap.Int("credits", credits))
	return secret, nil
}

func (s *PaymentService) ensureCustomer(ctx context.Context, user *store.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}
	customerID, err := s.billing.CreateCustomer(ctx, user)
	if err != nil {
		s.logger.Error("Failed to create customer", zap.String("user_id", user.ID), zap.Error(err))
		return "", fmt.Errorf("%w: error creating customer: %v", ErrUpstream, err)
	}
	if err := s.dbStore.UpdateUserStripeInfo(ctx, user.ID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

// HandleWebhook verifies the payload signature and credits the buyer for a
// succeeded payment intent. Redelivered events are acknowledged without
// crediting twice; unrelated event types are ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn("Rejected webhook", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if string(event.Type) != eventPaymentSucceeded {
		s.logger.Debug("Ignoring webhook event", zap.String("type", string(event.Type)), zap.String("event_id", event.ID))
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("%w: malformed payment intent: %v", ErrInvalidInput, err)
	}

	userID := intent.Metadata[metadataUserID]
	credits, convErr := strconv.Atoi(intent.Metadata[metadataCredits])
	if userID == "" || convErr != nil || credits <= 0 {
		s.logger.Warn("Payment intent without usable metadata", zap.String("payment_intent", intent.ID))
		return nil
	}

	applied, err := s.dbStore.CreditPayment(ctx, intent.ID, userID, credits)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Payment for unknown user", zap.String("user_id", userID), zap.String("payment_intent", intent.ID))
			return nil
		}
		return err
	}
	if !applied {
		s.logger.Info("Duplicate payment event ignored", zap.String("payment_intent", intent.ID))
		return nil
	}

	s.metrics.AddCreditsPurchased(credits)
	s.logger.Info("Credited payment",
		zap.String("user_id", userID),
		zap.String("payment_intent", intent.ID),
		zap.Int("credits", credits))
	return nil
}
