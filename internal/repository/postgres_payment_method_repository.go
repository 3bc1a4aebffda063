package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/database"
)

// PostgresPaymentMethodRepository implements PaymentMethodRepository using PostgreSQL
type PostgresPaymentMethodRepository struct {
	db *database.PostgresDB
}

// NewPostgresPaymentMethodRepository creates a new PostgreSQL payment method repository
func NewPostgresPaymentMethodRepository(db *database.PostgresDB) *PostgresPaymentMethodRepository {
	return &PostgresPaymentMethodRepository{db: db}
}

const paymentMethodColumns = `
	pm.id, pm.customer_id, pm.type, pm.card_brand, pm.card_last4, pm.exp_month, pm.exp_year,
	pm.bank_account_type, pm.account_last4, pm.routing_last4, pm.bank_name, pm.holder_name,
	pm.gateway_token, pm.created_at, pm.updated_at
`

// Create inserts a payment method
func (r *PostgresPaymentMethodRepository) Create(ctx context.Context, pm *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (
			id, customer_id, type, card_brand, card_last4, exp_month, exp_year,
			bank_account_type, account_last4, routing_last4, bank_name, holder_name,
			gateway_token, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Pool().Exec(ctx, query,
		pm.ID,
		pm.CustomerID,
		string(pm.Type),
		nullString(pm.CardBrand),
		nullString(pm.CardLast4),
		nullInt(pm.ExpMonth),
		nullInt(pm.ExpYear),
		nullString(string(pm.BankAccountType)),
		nullString(pm.AccountLast4),
		nullString(pm.RoutingLast4),
		nullString(pm.BankName),
		nullString(pm.HolderName),
		nullString(pm.GatewayToken),
		pm.CreatedAt,
		pm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment method: %w", err)
	}
	return nil
}

// GetByID retrieves a payment method by ID
func (r *PostgresPaymentMethodRepository) GetByID(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods pm WHERE pm.id = $1`

	var row paymentMethodRow
	if err := r.db.Pool().QueryRow(ctx, query, id).Scan(row.dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("failed to scan payment method: %w", err)
	}
	return row.toDomain(), nil
}

// GetByToken retrieves the oldest token record a customer holds for token
func (r *PostgresPaymentMethodRepository) GetByToken(ctx context.Context, customerID, token string) (*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods pm
		WHERE pm.customer_id = $1 AND pm.gateway_token = $2 AND pm.type = 'TOKEN'
		ORDER BY pm.created_at
		LIMIT 1`

	var row paymentMethodRow
	if err := r.db.Pool().QueryRow(ctx, query, customerID, token).Scan(row.dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("failed to scan payment method: %w", err)
	}
	return row.toDomain(), nil
}

// ListByCustomer lists a customer's payment methods, newest first
func (r *PostgresPaymentMethodRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods pm
		WHERE pm.customer_id = $1
		ORDER BY pm.created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	var methods []*domain.PaymentMethod
	for rows.Next() {
		var row paymentMethodRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment methods: %w", err)
	}
	return methods, nil
}

// paymentMethodRow holds nullable scan targets; every column is nullable so it also serves LEFT JOINs
type paymentMethodRow struct {
	id, customerID, pmType                      *string
	cardBrand, cardLast4                        *string
	expMonth, expYear                           *int
	bankAccountType, accountLast4, routingLast4 *string
	bankName, holderName, gatewayToken          *string
	createdAt, updatedAt                        *time.Time
}

func (r *paymentMethodRow) dest() []any {
	return []any{
		&r.id, &r.customerID, &r.pmType, &r.cardBrand, &r.cardLast4, &r.expMonth, &r.expYear,
		&r.bankAccountType, &r.accountLast4, &r.routingLast4, &r.bankName, &r.holderName,
		&r.gatewayToken, &r.createdAt, &r.updatedAt,
	}
}

func (r *paymentMethodRow) toDomain() *domain.PaymentMethod {
	if r.id == nil {
		return nil
	}
	pm := &domain.PaymentMethod{
		ID:              *r.id,
		CustomerID:      deref(r.customerID),
		Type:            domain.PaymentMethodType(deref(r.pmType)),
		CardBrand:       deref(r.cardBrand),
		CardLast4:       strings.TrimSpace(deref(r.cardLast4)),
		BankAccountType: domain.BankAccountType(deref(r.bankAccountType)),
		AccountLast4:    strings.TrimSpace(deref(r.accountLast4)),
		RoutingLast4:    strings.TrimSpace(deref(r.routingLast4)),
		BankName:        deref(r.bankName),
		HolderName:      deref(r.holderName),
		GatewayToken:    deref(r.gatewayToken),
	}
	if r.expMonth != nil {
		pm.ExpMonth = *r.expMonth
	}
	if r.expYear != nil {
		pm.ExpYear = *r.expYear
	}
	if r.createdAt != nil {
		pm.CreatedAt = *r.createdAt
	}
	if r.updatedAt != nil {
		pm.UpdatedAt = *r.updatedAt
	}
	return pm
}

func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
