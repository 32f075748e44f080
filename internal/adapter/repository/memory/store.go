// Package memory provides an in-process implementation of the ledger
// repositories. Writers are serialized by a single lock taken in Begin;
// each transaction works on a private copy that replaces the committed
// state on Commit and is dropped on Rollback.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

// ErrTxClosed is returned when a finished transaction is used again.
var ErrTxClosed = errors.New("transaction already closed")

// Store holds all ledger data.
type Store struct {
	writeMu sync.Mutex // held for the lifetime of a write transaction

	mu         sync.RWMutex // guards the fields below
	committed  *state
	categories map[int64]*domain.Category
	users      map[string]*domain.User
}

type state struct {
	movements      map[int64]*domain.Movement
	audit          []*domain.AuditEntry
	outbox         []*domain.OutboxEvent
	ledger         domain.LedgerState
	nextMovementID int64
	nextAuditID    int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		committed: &state{
			movements: make(map[int64]*domain.Movement),
			ledger:    domain.LedgerState{Balance: decimal.Zero},
		},
		categories: make(map[int64]*domain.Category),
		users:      make(map[string]*domain.User),
	}
}

// AddCategory registers a category.
func (s *Store) AddCategory(c *domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.categories[c.ID] = &cp
}

// RemoveCategory drops a category. Movements keep their row but lose the
// reference, like ON DELETE SET NULL.
func (s *Store) RemoveCategory(id int64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.categories, id)
	for _, m := range s.committed.movements {
		if m.CategoryID != nil && *m.CategoryID == id {
			m.CategoryID = nil
		}
	}
}

// AddUser registers an identity.
func (s *Store) AddUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (st *state) clone() *state {
	c := &state{
		movements:      make(map[int64]*domain.Movement, len(st.movements)),
		audit:          append([]*domain.AuditEntry(nil), st.audit...),
		outbox:         make([]*domain.OutboxEvent, 0, len(st.outbox)),
		ledger:         st.ledger,
		nextMovementID: st.nextMovementID,
		nextAuditID:    st.nextAuditID,
	}
	for id, m := range st.movements {
		c.movements[id] = m.Clone()
	}
	for _, e := range st.outbox {
		cp := *e
		c.outbox = append(c.outbox, &cp)
	}
	return c
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	store *Store
}

// NewTxManager creates a new TxManager.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// Begin waits for the write lock and starts a transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	acquired := make(chan struct{})
	go func() {
		m.store.writeMu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// Release the lock as soon as the pending acquisition completes.
		go func() {
			<-acquired
			m.store.writeMu.Unlock()
		}()
		return nil, ctx.Err()
	}

	m.store.mu.RLock()
	staged := m.store.committed.clone()
	m.store.mu.RUnlock()

	return &Tx{store: m.store, state: staged}, nil
}

// Tx is an in-memory transaction.
type Tx struct {
	store *Store
	state *state
	done  bool
}

// Commit publishes the staged state.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.store.mu.Lock()
	t.store.committed = t.state
	t.store.mu.Unlock()

	t.close()
	return nil
}

// Rollback discards the staged state. Rolling back a finished transaction
// is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.close()
	return nil
}

func (t *Tx) close() {
	t.done = true
	t.state = nil
	t.store.writeMu.Unlock()
}

func stateOf(tx usecase.Transaction) (*state, error) {
	mtx, ok := tx.(*Tx)
	if !ok || mtx.done {
		return nil, ErrTxClosed
	}
	return mtx.state, nil
}

// read runs fn against the committed state.
func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.committed)
}

// resolve returns a copy of m with category and recorder names filled in.
// Callers must hold s.mu.
func (s *Store) resolve(m *domain.Movement) *domain.Movement {
	c := m.Clone()
	c.CategoryName = nil
	if c.CategoryID != nil {
		if cat, ok := s.categories[*c.CategoryID]; ok {
			name := cat.Name
			c.CategoryName = &name
		}
	}
	c.RecordedByName = nil
	if c.RecordedBy != nil {
		if u, ok := s.users[*c.RecordedBy]; ok {
			name := u.DisplayName()
			c.RecordedByName = &name
		}
	}
	return c
}
