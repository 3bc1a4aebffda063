package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/database"
)

// PostgresCustomerRepository implements CustomerRepository using PostgreSQL
type PostgresCustomerRepository struct {
	db *database.PostgresDB
}

// NewPostgresCustomerRepository creates a new PostgreSQL customer repository
func NewPostgresCustomerRepository(db *database.PostgresDB) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{db: db}
}

const customerColumns = `
	id, email, first_name, last_name, phone, company, address, gateway_profile_id, created_at, updated_at
`

// Create inserts a customer
func (r *PostgresCustomerRepository) Create(ctx context.Context, c *domain.Customer) error {
	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var address []byte
	if c.Address != nil {
		var err error
		if address, err = json.Marshal(c.Address); err != nil {
			return fmt.Errorf("failed to marshal address: %w", err)
		}
	}

	_, err := r.db.Pool().Exec(ctx, query,
		c.ID,
		domain.NormalizeEmail(c.Email),
		nullString(c.FirstName),
		nullString(c.LastName),
		nullString(c.Phone),
		nullString(c.Company),
		address,
		nullString(c.GatewayProfileID),
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrCustomerAlreadyExists
		}
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// GetByID retrieves a customer by ID
func (r *PostgresCustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	return scanCustomer(r.db.Pool().QueryRow(ctx, query, id))
}

// GetByEmail retrieves a customer by case-insensitive email
func (r *PostgresCustomerRepository) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE LOWER(email) = $1`
	return scanCustomer(r.db.Pool().QueryRow(ctx, query, domain.NormalizeEmail(email)))
}

// SetGatewayProfileID links a gateway profile once
func (r *PostgresCustomerRepository) SetGatewayProfileID(ctx context.Context, customerID, profileID string) error {
	query := `
		UPDATE customers
		SET gateway_profile_id = $2, updated_at = NOW()
		WHERE id = $1 AND gateway_profile_id IS NULL`

	tag, err := r.db.Pool().Exec(ctx, query, customerID, profileID)
	if err != nil {
		return fmt.Errorf("failed to set gateway profile id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, customerID); err != nil {
			return err
		}
	}
	return nil
}

// ListWithoutGatewayProfile lists customers without a gateway profile, oldest first
func (r *PostgresCustomerRepository) ListWithoutGatewayProfile(ctx context.Context, limit int) ([]*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers
		WHERE gateway_profile_id IS NULL
		ORDER BY created_at
		LIMIT $1`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []*domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}
	return customers, nil
}

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	var firstName, lastName, phone, company, profileID *string
	var address []byte

	err := row.Scan(&c.ID, &c.Email, &firstName, &lastName, &phone, &company, &address, &profileID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to scan customer: %w", err)
	}

	c.FirstName = deref(firstName)
	c.LastName = deref(lastName)
	c.Phone = deref(phone)
	c.Company = deref(company)
	c.GatewayProfileID = deref(profileID)

	if len(address) > 0 {
		c.Address = &domain.Address{}
		if err := json.Unmarshal(address, c.Address); err != nil {
			return nil, fmt.Errorf("failed to unmarshal address: %w", err)
		}
	}
	return &c, nil
}
