package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/database"
)

// PostgresTransactionRepository implements TransactionRepository using PostgreSQL
type PostgresTransactionRepository struct {
	db *database.PostgresDB
}

// NewPostgresTransactionRepository creates a new PostgreSQL transaction repository
func NewPostgresTransactionRepository(db *database.PostgresDB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// transactionColumns defines the columns to select for transaction queries
const transactionColumns = `
	t.id, t.idempotency_key, t.correlation_id, t.type, t.status, t.amount::text, t.currency,
	t.gateway_transaction_id, t.reference_transaction_id, t.parent_transaction_id,
	t.auth_code, t.avs_result, t.cvv_result, t.gateway_response_code, t.reason_code, t.reason_text,
	t.error_code, t.error_message, t.retryable, t.customer_id, t.payment_method_id,
	t.captured_amount::text, t.refunded_amount::text, t.reconciliation_required, t.version,
	t.created_at, t.updated_at
`

// Create inserts a new transaction
func (r *PostgresTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, idempotency_key, correlation_id, type, status, amount, currency,
			gateway_transaction_id, reference_transaction_id, parent_transaction_id,
			auth_code, avs_result, cvv_result, gateway_response_code, reason_code, reason_text,
			error_code, error_message, retryable, customer_id, payment_method_id,
			captured_amount, refunded_amount, reconciliation_required, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22::text::numeric, $23::text::numeric, $24, $25, $26, $27
		)`

	_, err := r.db.Pool().Exec(ctx, query,
		txn.ID,
		nullString(txn.IdempotencyKey),
		nullString(txn.CorrelationID),
		string(txn.Type),
		string(txn.Status),
		nullDecimal(txn.Amount),
		txn.Currency,
		nullString(txn.GatewayTransactionID),
		nullString(txn.ReferenceTransactionID),
		nullString(txn.ParentTransactionID),
		nullString(txn.AuthCode),
		nullString(txn.AVSResult),
		nullString(txn.CVVResult),
		nullString(txn.GatewayResponseCode),
		nullString(txn.ReasonCode),
		nullString(txn.ReasonText),
		nullString(string(txn.ErrorCode)),
		nullString(txn.ErrorMessage),
		txn.Retryable,
		nullString(txn.CustomerID),
		nullString(txn.PaymentMethodID),
		txn.CapturedAmount.String(),
		txn.RefundedAmount.String(),
		txn.ReconciliationRequired,
		txn.Version,
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: idempotency key %q", ErrDuplicateTransaction, txn.IdempotencyKey)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID
func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	// the id column is UUID; malformed text would fail the cast instead of matching nothing
	if !domain.IsValidID(id) {
		return nil, domain.ErrTransactionNotFound
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.id = $1`
	return scanTransaction(r.db.Pool().QueryRow(ctx, query, id))
}

// GetWithPaymentMethod retrieves a transaction and its payment method in one query
func (r *PostgresTransactionRepository) GetWithPaymentMethod(ctx context.Context, id string) (*domain.Transaction, *domain.PaymentMethod, error) {
	if !domain.IsValidID(id) {
		return nil, nil, domain.ErrTransactionNotFound
	}
	query := `SELECT ` + transactionColumns + `, ` + paymentMethodColumns + `
		FROM transactions t
		LEFT JOIN payment_methods pm ON pm.id = t.payment_method_id
		WHERE t.id = $1`

	var txnRow transactionRow
	var pmRow paymentMethodRow
	dest := append(txnRow.dest(), pmRow.dest()...)

	if err := r.db.Pool().QueryRow(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrTransactionNotFound
		}
		return nil, nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn, err := txnRow.toDomain()
	if err != nil {
		return nil, nil, err
	}
	return txn, pmRow.toDomain(), nil
}

// GetByIdempotencyKey retrieves a transaction by idempotency key
func (r *PostgresTransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.idempotency_key = $1`
	return scanTransaction(r.db.Pool().QueryRow(ctx, query, key))
}

const updateTransactionQuery = `
	UPDATE transactions
	SET status = $3,
	    gateway_transaction_id = $4,
	    auth_code = $5,
	    avs_result = $6,
	    cvv_result = $7,
	    gateway_response_code = $8,
	    reason_code = $9,
	    reason_text = $10,
	    error_code = $11,
	    error_message = $12,
	    retryable = $13,
	    captured_amount = $14::text::numeric,
	    refunded_amount = $15::text::numeric,
	    reconciliation_required = $16,
	    customer_id = $17,
	    payment_method_id = $18,
	    updated_at = $19,
	    version = version + 1
	WHERE id = $1 AND version = $2`

// Update persists txn with a compare-and-swap on its version
func (r *PostgresTransactionRepository) Update(ctx context.Context, txn *domain.Transaction) error {
	if err := r.update(ctx, r.db.Pool(), txn); err != nil {
		return err
	}
	txn.Version++
	return nil
}

// UpdateAll persists every transaction in one database transaction
func (r *PostgresTransactionRepository) UpdateAll(ctx context.Context, txns ...*domain.Transaction) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, txn := range txns {
			if err := r.update(ctx, tx, txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, txn := range txns {
		txn.Version++
	}
	return nil
}

func (r *PostgresTransactionRepository) update(ctx context.Context, q database.Querier, txn *domain.Transaction) error {
	tag, err := q.Exec(ctx, updateTransactionQuery,
		txn.ID,
		txn.Version,
		string(txn.Status),
		nullString(txn.GatewayTransactionID),
		nullString(txn.AuthCode),
		nullString(txn.AVSResult),
		nullString(txn.CVVResult),
		nullString(txn.GatewayResponseCode),
		nullString(txn.ReasonCode),
		nullString(txn.ReasonText),
		nullString(string(txn.ErrorCode)),
		nullString(txn.ErrorMessage),
		txn.Retryable,
		txn.CapturedAmount.String(),
		txn.RefundedAmount.String(),
		txn.ReconciliationRequired,
		nullString(txn.CustomerID),
		nullString(txn.PaymentMethodID),
		txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, txn.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check transaction: %w", err)
		}
		if !exists {
			return domain.ErrTransactionNotFound
		}
		return domain.ErrConcurrentModification
	}
	return nil
}

// ListByCustomer lists a customer's transactions, newest first
func (r *PostgresTransactionRepository) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t
		WHERE t.customer_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, customerID, limit, offset)
}

// ListUnresolved lists transactions awaiting reconciliation, oldest first
func (r *PostgresTransactionRepository) ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t
		WHERE t.status = 'PENDING' AND t.reconciliation_required AND t.updated_at < $1
		ORDER BY t.updated_at
		LIMIT $2`
	return r.list(ctx, query, olderThan, limit)
}

func (r *PostgresTransactionRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}

// transactionRow holds nullable scan targets for one transaction
type transactionRow struct {
	txn domain.Transaction

	txnType, status                                 string
	capturedAmount, refundedAmount                  string
	idempotencyKey, correlationID, amount           *string
	gatewayTxnID, referenceTxnID, parentTxnID       *string
	authCode, avsResult, cvvResult, responseCode    *string
	reasonCode, reasonText, errorCode, errorMessage *string
	customerID, paymentMethodID                     *string
}

func (r *transactionRow) dest() []any {
	return []any{
		&r.txn.ID, &r.idempotencyKey, &r.correlationID, &r.txnType, &r.status, &r.amount, &r.txn.Currency,
		&r.gatewayTxnID, &r.referenceTxnID, &r.parentTxnID,
		&r.authCode, &r.avsResult, &r.cvvResult, &r.responseCode, &r.reasonCode, &r.reasonText,
		&r.errorCode, &r.errorMessage, &r.txn.Retryable, &r.customerID, &r.paymentMethodID,
		&r.capturedAmount, &r.refundedAmount, &r.txn.ReconciliationRequired, &r.txn.Version,
		&r.txn.CreatedAt, &r.txn.UpdatedAt,
	}
}

func (r *transactionRow) toDomain() (*domain.Transaction, error) {
	txn := r.txn
	txn.Type = domain.TransactionType(r.txnType)
	txn.Status = domain.TransactionStatus(r.status)
	txn.Currency = strings.TrimSpace(txn.Currency)
	txn.IdempotencyKey = deref(r.idempotencyKey)
	txn.CorrelationID = deref(r.correlationID)
	txn.GatewayTransactionID = deref(r.gatewayTxnID)
	txn.ReferenceTransactionID = deref(r.referenceTxnID)
	txn.ParentTransactionID = deref(r.parentTxnID)
	txn.AuthCode = deref(r.authCode)
	txn.AVSResult = deref(r.avsResult)
	txn.CVVResult = deref(r.cvvResult)
	txn.GatewayResponseCode = deref(r.responseCode)
	txn.ReasonCode = deref(r.reasonCode)
	txn.ReasonText = deref(r.reasonText)
	txn.ErrorCode = domain.ErrorCode(deref(r.errorCode))
	txn.ErrorMessage = deref(r.errorMessage)
	txn.CustomerID = deref(r.customerID)
	txn.PaymentMethodID = deref(r.paymentMethodID)

	var err error
	if r.amount != nil {
		d, perr := decimal.NewFromString(*r.amount)
		if perr != nil {
			return nil, fmt.Errorf("failed to parse amount: %w", perr)
		}
		txn.Amount = decimal.NewNullDecimal(d)
	}
	if txn.CapturedAmount, err = decimal.NewFromString(r.capturedAmount); err != nil {
		return nil, fmt.Errorf("failed to parse captured_amount: %w", err)
	}
	if txn.RefundedAmount, err = decimal.NewFromString(r.refundedAmount); err != nil {
		return nil, fmt.Errorf("failed to parse refunded_amount: %w", err)
	}
	return &txn, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var r transactionRow
	if err := row.Scan(r.dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return r.toDomain()
}

// nullString returns nil if string is empty, otherwise returns pointer to string
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
