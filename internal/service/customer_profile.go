package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/gateway"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/repository"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/logger"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/telemetry"
)

// CustomerProfileManager resolves customers and payment methods for purchase and authorize
type CustomerProfileManager struct {
	customers      repository.CustomerRepository
	paymentMethods repository.PaymentMethodRepository
	gateway        gateway.Client
	log            *logger.Logger
	group          singleflight.Group
}

// NewCustomerProfileManager creates a new customer profile manager
func NewCustomerProfileManager(
	customers repository.CustomerRepository,
	paymentMethods repository.PaymentMethodRepository,
	gw gateway.Client,
	log *logger.Logger,
) *CustomerProfileManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &CustomerProfileManager{
		customers:      customers,
		paymentMethods: paymentMethods,
		gateway:        gw,
		log:            log.Named("customer_profile"),
	}
}

// ResolveCustomer finds the customer by case-insensitive email or creates one.
// A new customer gets a gateway profile; if that fails the customer is kept without one.
func (m *CustomerProfileManager) ResolveCustomer(ctx context.Context, correlationID string, info domain.CustomerInfo) (*domain.Customer, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.customer.resolve")
	defer span.End()

	email := domain.NormalizeEmail(info.Email)
	v, err, _ := m.group.Do(email, func() (interface{}, error) {
		return m.findOrCreate(ctx, correlationID, info)
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	c := *v.(*domain.Customer)
	return &c, nil
}

func (m *CustomerProfileManager) findOrCreate(ctx context.Context, correlationID string, info domain.CustomerInfo) (*domain.Customer, error) {
	existing, err := m.customers.GetByEmail(ctx, info.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	c, err := domain.NewCustomer(info)
	if err != nil {
		return nil, err
	}
	if err := m.customers.Create(ctx, c); err != nil {
		// another instance created it first
		if errors.Is(err, domain.ErrCustomerAlreadyExists) {
			return m.customers.GetByEmail(ctx, info.Email)
		}
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	m.createProfile(ctx, correlationID, c)
	return c, nil
}

// createProfile links a gateway profile to c. Failures are logged and left for the backfill.
func (m *CustomerProfileManager) createProfile(ctx context.Context, correlationID string, c *domain.Customer) bool {
	log := m.log.WithCorrelationID(correlationID).With(zap.String("customer_id", c.ID))

	profileID, err := m.gateway.CreateCustomerProfile(ctx, &gateway.ProfileRequest{
		CustomerID:    c.ID,
		CorrelationID: correlationID,
		Email:         c.Email,
		Name:          c.FullName(),
		Phone:         c.Phone,
	})
	if err != nil {
		log.Warn("Gateway profile creation failed, continuing without profile", zap.Error(err))
		return false
	}

	if err := m.customers.SetGatewayProfileID(ctx, c.ID, profileID); err != nil {
		log.Warn("Failed to store gateway profile id", zap.String("profile_id", profileID), zap.Error(err))
		return false
	}
	c.LinkGatewayProfile(profileID)
	log.Info("Gateway profile linked", zap.String("profile_id", profileID))
	return true
}

// ResolvePaymentMethod returns the payment method record for the customer.
// Raw card and bank input is masked into a new record every time; a token the
// customer already holds resolves to its existing record.
func (m *CustomerProfileManager) ResolvePaymentMethod(ctx context.Context, c *domain.Customer, in domain.PaymentMethodInput) (*domain.PaymentMethod, error) {
	var pm, existing *domain.PaymentMethod
	masked := func() (err error) {
		pm, err = domain.NewMaskedPaymentMethod(c.ID, in)
		return err
	}
	err := domain.MatchPaymentMethod(in,
		func(*domain.CreditCard) error { return masked() },
		func(*domain.BankAccount) error { return masked() },
		func(t *domain.Token) error {
			found, err := m.paymentMethods.GetByToken(ctx, c.ID, t.Value)
			switch {
			case err == nil:
				existing = found
			case errors.Is(err, domain.ErrPaymentMethodNotFound):
				pm = domain.NewTokenPaymentMethod(c.ID, t.Value)
			default:
				return fmt.Errorf("failed to look up payment method token: %w", err)
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := m.paymentMethods.Create(ctx, pm); err != nil {
		return nil, fmt.Errorf("failed to create payment method: %w", err)
	}
	return pm, nil
}

// BackfillProfiles retries gateway profile creation for customers that have none
func (m *CustomerProfileManager) BackfillProfiles(ctx context.Context, limit int) (int, error) {
	customers, err := m.customers.ListWithoutGatewayProfile(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list customers without profile: %w", err)
	}

	linked := 0
	for _, c := range customers {
		if ctx.Err() != nil {
			return linked, ctx.Err()
		}
		if m.createProfile(ctx, "", c) {
			linked++
		}
	}
	return linked, nil
}
