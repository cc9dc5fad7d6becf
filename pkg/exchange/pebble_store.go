package exchange

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
)

// Pebble key schema: one record per order under "order:" with the key
// zero-padded so iteration order matches numeric key order.
const prefixOrder = "order:"

func orderKey(key uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, key))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// PebbleStore is the durable OrderStore. Values are JSON like the rest of the
// system's persisted records; every visible write is synced.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) the order database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open order db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Get(key uint64) (*Order, error) {
	data, closer, err := s.db.Get(orderKey(key))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("%w: key %d", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", key, err)
	}
	defer closer.Close()

	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order %d: %w", key, err)
	}
	return &o, nil
}

func (s *PebbleStore) Insert(o *Order) error {
	// Check-then-insert; safe because the Exchange serializes all writers.
	k := orderKey(o.Key)
	if _, closer, err := s.db.Get(k); err == nil {
		closer.Close()
		return fmt.Errorf("%w: key %d", ErrDuplicateKey, o.Key)
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("probe order %d: %w", o.Key, err)
	}
	return s.set(o)
}

func (s *PebbleStore) Update(o *Order) error {
	k := orderKey(o.Key)
	_, closer, err := s.db.Get(k)
	if err == pebble.ErrNotFound {
		return fmt.Errorf("%w: key %d", ErrNotFound, o.Key)
	}
	if err != nil {
		return fmt.Errorf("probe order %d: %w", o.Key, err)
	}
	closer.Close()
	return s.set(o)
}

func (s *PebbleStore) Delete(key uint64) error {
	k := orderKey(key)
	_, closer, err := s.db.Get(k)
	if err == pebble.ErrNotFound {
		return fmt.Errorf("%w: key %d", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("probe order %d: %w", key, err)
	}
	closer.Close()
	if err := s.db.Delete(k, pebble.Sync); err != nil {
		return fmt.Errorf("delete order %d: %w", key, err)
	}
	return nil
}

// UpdateAndDelete commits all changes in one pebble batch so a settlement's
// two order mutations land together or not at all.
func (s *PebbleStore) UpdateAndDelete(changes []OrderChange) error {
	for _, c := range changes {
		_, closer, err := s.db.Get(orderKey(c.Key))
		if err == pebble.ErrNotFound {
			return fmt.Errorf("%w: key %d", ErrNotFound, c.Key)
		}
		if err != nil {
			return fmt.Errorf("probe order %d: %w", c.Key, err)
		}
		closer.Close()
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, c := range changes {
		if c.Order == nil {
			if err := batch.Delete(orderKey(c.Key), nil); err != nil {
				return fmt.Errorf("batch delete %d: %w", c.Key, err)
			}
			continue
		}
		data, err := json.Marshal(c.Order)
		if err != nil {
			return fmt.Errorf("marshal order %d: %w", c.Key, err)
		}
		if err := batch.Set(orderKey(c.Key), data, nil); err != nil {
			return fmt.Errorf("batch set %d: %w", c.Key, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit settlement batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) List() ([]*Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	defer iter.Close()

	var out []*Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("unmarshal order at %s: %w", iter.Key(), err)
		}
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *PebbleStore) Len() (int, error) {
	orders, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(orders), nil
}

func (s *PebbleStore) set(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order %d: %w", o.Key, err)
	}
	if err := s.db.Set(orderKey(o.Key), data, pebble.Sync); err != nil {
		return fmt.Errorf("save order %d: %w", o.Key, err)
	}
	return nil
}
