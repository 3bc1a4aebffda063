package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

// MemoryStore holds the in-memory tables shared by the memory repositories
type MemoryStore struct {
	mu             sync.RWMutex
	transactions   map[string]*domain.Transaction
	idempotency    map[string]string
	customers      map[string]*domain.Customer
	paymentMethods map[string]*domain.PaymentMethod
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions:   make(map[string]*domain.Transaction),
		idempotency:    make(map[string]string),
		customers:      make(map[string]*domain.Customer),
		paymentMethods: make(map[string]*domain.PaymentMethod),
	}
}

// MemoryTransactionRepository implements TransactionRepository in memory
type MemoryTransactionRepository struct {
	store *MemoryStore
}

// NewMemoryTransactionRepository creates a transaction repository backed by store
func NewMemoryTransactionRepository(store *MemoryStore) *MemoryTransactionRepository {
	return &MemoryTransactionRepository{store: store}
}

func (r *MemoryTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[txn.ID]; ok {
		return ErrDuplicateTransaction
	}
	if txn.IdempotencyKey != "" {
		if _, ok := s.idempotency[txn.IdempotencyKey]; ok {
			return ErrDuplicateTransaction
		}
		s.idempotency[txn.IdempotencyKey] = txn.ID
	}
	s.transactions[txn.ID] = txn.Clone()
	return nil
}

func (r *MemoryTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return txn.Clone(), nil
}

func (r *MemoryTransactionRepository) GetWithPaymentMethod(ctx context.Context, id string) (*domain.Transaction, *domain.PaymentMethod, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, nil, domain.ErrTransactionNotFound
	}
	var pm *domain.PaymentMethod
	if stored, ok := s.paymentMethods[txn.PaymentMethodID]; ok {
		c := *stored
		pm = &c
	}
	return txn.Clone(), pm, nil
}

func (r *MemoryTransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idempotency[key]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return s.transactions[id].Clone(), nil
}

func (r *MemoryTransactionRepository) Update(ctx context.Context, txn *domain.Transaction) error {
	return r.UpdateAll(ctx, txn)
}

// UpdateAll checks every version before writing any of them
func (r *MemoryTransactionRepository) UpdateAll(ctx context.Context, txns ...*domain.Transaction) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, txn := range txns {
		stored, ok := s.transactions[txn.ID]
		if !ok {
			return domain.ErrTransactionNotFound
		}
		if stored.Version != txn.Version {
			return domain.ErrConcurrentModification
		}
	}
	for _, txn := range txns {
		txn.Version++
		s.transactions[txn.ID] = txn.Clone()
	}
	return nil
}

func (r *MemoryTransactionRepository) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*domain.Transaction, error) {
	matches := r.filter(func(t *domain.Transaction) bool { return t.CustomerID == customerID })
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return page(matches, limit, offset), nil
}

func (r *MemoryTransactionRepository) ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	matches := r.filter(func(t *domain.Transaction) bool {
		return t.IsUnresolved() && t.UpdatedAt.Before(olderThan)
	})
	sort.Slice(matches, func(i, j int) bool { return matches[i].UpdatedAt.Before(matches[j].UpdatedAt) })
	return page(matches, limit, 0), nil
}

func (r *MemoryTransactionRepository) filter(keep func(*domain.Transaction) bool) []*domain.Transaction {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transaction
	for _, t := range s.transactions {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func page(txns []*domain.Transaction, limit, offset int) []*domain.Transaction {
	if offset >= len(txns) {
		return []*domain.Transaction{}
	}
	txns = txns[offset:]
	if limit > 0 && limit < len(txns) {
		txns = txns[:limit]
	}
	return txns
}

// MemoryCustomerRepository implements CustomerRepository in memory
type MemoryCustomerRepository struct {
	store *MemoryStore
}

// NewMemoryCustomerRepository creates a customer repository backed by store
func NewMemoryCustomerRepository(store *MemoryStore) *MemoryCustomerRepository {
	return &MemoryCustomerRepository{store: store}
}

func (r *MemoryCustomerRepository) Create(ctx context.Context, c *domain.Customer) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	email := domain.NormalizeEmail(c.Email)
	for _, existing := range s.customers {
		if existing.Email == email {
			return domain.ErrCustomerAlreadyExists
		}
	}
	stored := *c
	stored.Email = email
	s.customers[c.ID] = &stored
	return nil
}

func (r *MemoryCustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	out := *c
	return &out, nil
}

func (r *MemoryCustomerRepository) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = domain.NormalizeEmail(email)
	for _, c := range s.customers {
		if c.Email == email {
			out := *c
			return &out, nil
		}
	}
	return nil, domain.ErrCustomerNotFound
}

func (r *MemoryCustomerRepository) SetGatewayProfileID(ctx context.Context, customerID, profileID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok {
		return domain.ErrCustomerNotFound
	}
	c.LinkGatewayProfile(profileID)
	return nil
}

func (r *MemoryCustomerRepository) ListWithoutGatewayProfile(ctx context.Context, limit int) ([]*domain.Customer, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Customer
	for _, c := range s.customers {
		if !c.HasGatewayProfile() {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// MemoryPaymentMethodRepository implements PaymentMethodRepository in memory
type MemoryPaymentMethodRepository struct {
	store *MemoryStore
}

// NewMemoryPaymentMethodRepository creates a payment method repository backed by store
func NewMemoryPaymentMethodRepository(store *MemoryStore) *MemoryPaymentMethodRepository {
	return &MemoryPaymentMethodRepository{store: store}
}

func (r *MemoryPaymentMethodRepository) Create(ctx context.Context, pm *domain.PaymentMethod) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *pm
	s.paymentMethods[pm.ID] = &stored
	return nil
}

func (r *MemoryPaymentMethodRepository) GetByID(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	pm, ok := s.paymentMethods[id]
	if !ok {
		return nil, domain.ErrPaymentMethodNotFound
	}
	out := *pm
	return &out, nil
}

func (r *MemoryPaymentMethodRepository) GetByToken(ctx context.Context, customerID, token string) (*domain.PaymentMethod, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.PaymentMethod
	for _, pm := range s.paymentMethods {
		if pm.CustomerID != customerID || pm.Type != domain.PaymentMethodTypeToken || pm.GatewayToken != token {
			continue
		}
		if found == nil || pm.CreatedAt.Before(found.CreatedAt) {
			found = pm
		}
	}
	if found == nil {
		return nil, domain.ErrPaymentMethodNotFound
	}
	out := *found
	return &out, nil
}

func (r *MemoryPaymentMethodRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.PaymentMethod, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.PaymentMethod{}
	for _, pm := range s.paymentMethods {
		if pm.CustomerID == customerID {
			cp := *pm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
