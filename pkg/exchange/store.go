package exchange

import (
	"fmt"
	"sort"
)

// OrderStore is the keyed collection backing the exchange. Implementations do
// not need to be internally synchronized for correctness of the core: the
// Exchange serializes every call behind its own lock. Insert must be
// insert-if-absent so key uniqueness survives an implementation that is used
// concurrently elsewhere.
type OrderStore interface {
	// Get returns the order under key, or ErrNotFound.
	Get(key uint64) (*Order, error)

	// Insert adds a new order; ErrDuplicateKey if the key is live.
	Insert(o *Order) error

	// Update rewrites an existing order in place; ErrNotFound if absent.
	Update(o *Order) error

	// Delete removes the order under key; ErrNotFound if absent.
	Delete(key uint64) error

	// UpdateAndDelete applies one settlement's store effects as a unit: each
	// entry with nil order is a deletion of its key, otherwise an update.
	UpdateAndDelete(changes []OrderChange) error

	// List returns all live orders sorted by key.
	List() ([]*Order, error)

	// Len returns the number of live orders.
	Len() (int, error)
}

// OrderChange is one store effect of a settlement.
type OrderChange struct {
	Key   uint64
	Order *Order // nil means delete Key
}

// MemStore is a map-backed OrderStore for tests and ephemeral deployments.
type MemStore struct {
	orders map[uint64]*Order
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{orders: make(map[uint64]*Order)}
}

func (s *MemStore) Get(key uint64) (*Order, error) {
	o, ok := s.orders[key]
	if !ok {
		return nil, fmt.Errorf("%w: key %d", ErrNotFound, key)
	}
	cp := *o
	return &cp, nil
}

func (s *MemStore) Insert(o *Order) error {
	if _, exists := s.orders[o.Key]; exists {
		return fmt.Errorf("%w: key %d", ErrDuplicateKey, o.Key)
	}
	cp := *o
	s.orders[o.Key] = &cp
	return nil
}

func (s *MemStore) Update(o *Order) error {
	if _, exists := s.orders[o.Key]; !exists {
		return fmt.Errorf("%w: key %d", ErrNotFound, o.Key)
	}
	cp := *o
	s.orders[o.Key] = &cp
	return nil
}

func (s *MemStore) Delete(key uint64) error {
	if _, exists := s.orders[key]; !exists {
		return fmt.Errorf("%w: key %d", ErrNotFound, key)
	}
	delete(s.orders, key)
	return nil
}

func (s *MemStore) UpdateAndDelete(changes []OrderChange) error {
	// Verify first so the batch applies all-or-nothing.
	for _, c := range changes {
		if _, exists := s.orders[c.Key]; !exists {
			return fmt.Errorf("%w: key %d", ErrNotFound, c.Key)
		}
	}
	for _, c := range changes {
		if c.Order == nil {
			delete(s.orders, c.Key)
		} else {
			cp := *c.Order
			s.orders[c.Key] = &cp
		}
	}
	return nil
}

func (s *MemStore) List() ([]*Order, error) {
	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemStore) Len() (int, error) {
	return len(s.orders), nil
}
