package exchange

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/transledger/ibex/pkg/asset"
	"github.com/transledger/ibex/pkg/ledger"
	"github.com/transledger/ibex/pkg/util"
)

// Exchange is the matching-settlement core. Matching itself happens outside:
// callers hand in already-paired order keys and proposed quantities, and the
// exchange validates and applies them.
//
// Every operation runs to completion under one mutex — the explicit form of
// the one-call-at-a-time guarantee the original host environment provided.
// The check-then-insert key uniqueness sequence is only safe because of it.
type Exchange struct {
	mu sync.Mutex

	store  OrderStore
	ledger ledger.TokenLedger

	self   common.Address // spender identity for allowance queries and transfers
	feeSym asset.Symbol   // designated fee currency, injected per deployment

	clock util.Clock
	log   *zap.SugaredLogger

	onEvent func(Event)
}

// Config carries the per-deployment parameters of an exchange instance.
type Config struct {
	// Self is the exchange's own ledger identity: the spender owners approve.
	Self common.Address

	// FeeSymbol is the designated fee currency. Order fees must be
	// denominated in it.
	FeeSymbol asset.Symbol

	// Clock defaults to util.RealClock.
	Clock util.Clock

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// New wires an exchange over a store and a token ledger.
func New(cfg Config, store OrderStore, tl ledger.TokenLedger) (*Exchange, error) {
	if !cfg.FeeSymbol.IsValid() {
		return nil, fmt.Errorf("%w: fee symbol %s", ErrInvalidAsset, cfg.FeeSymbol)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{
		store:  store,
		ledger: tl,
		self:   cfg.Self,
		feeSym: cfg.FeeSymbol,
		clock:  clock,
		log:    logger.Sugar(),
	}, nil
}

// SetEventSink registers a callback invoked after each successful operation.
// Used by the API layer to fan out WebSocket notifications. Must be set before
// the exchange starts serving.
func (x *Exchange) SetEventSink(fn func(Event)) { x.onEvent = fn }

// EventType tags the events emitted after successful operations.
type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderEdited    EventType = "order_edited"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderRetired   EventType = "order_retired"
	EventSettled        EventType = "settlement"
)

// Event describes one applied operation.
type Event struct {
	Type       EventType   `json:"type"`
	Order      *Order      `json:"order,omitempty"`
	Settlement *Settlement `json:"settlement,omitempty"`
}

func (x *Exchange) emit(ev Event) {
	if x.onEvent != nil {
		x.onEvent(ev)
	}
}

// CreateParams are the inputs to Create. Caller authentication happens
// upstream; the authenticated identity is passed as caller.
type CreateParams struct {
	Owner     common.Address
	Relayer   common.Address
	Key       uint64
	Offered   asset.Asset
	Requested asset.Asset
	Fee       asset.Asset
	Memo      string
	CreatedAt int64
	ExpiresAt int64
}

// Create inserts a new order. No funds move at creation: the owner's
// allowance to the exchange is the only availability guarantee, and the
// ledger re-validates it when the order settles.
func (x *Exchange) Create(caller common.Address, p CreateParams) (*Order, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if caller != p.Owner {
		return nil, fmt.Errorf("%w: caller %s, owner %s", ErrUnauthorized, caller.Hex(), p.Owner.Hex())
	}

	// Offered leg: structural validity, registry, allowance.
	if err := checkPositive(p.Offered); err != nil {
		return nil, fmt.Errorf("offered: %w", err)
	}
	if err := x.checkRegistered(p.Offered); err != nil {
		return nil, fmt.Errorf("offered: %w", err)
	}
	if err := x.checkAllowance(p.Owner, p.Offered); err != nil {
		return nil, fmt.Errorf("offered: %w", err)
	}

	// Requested leg: validity and registry only; the counter-party's funds
	// are checked when their own order is created.
	if err := checkPositive(p.Requested); err != nil {
		return nil, fmt.Errorf("requested: %w", err)
	}
	if err := x.checkRegistered(p.Requested); err != nil {
		return nil, fmt.Errorf("requested: %w", err)
	}

	// Fee: must be in the designated fee currency, non-negative, and covered
	// by its own allowance when nonzero.
	if !p.Fee.IsValid() || p.Fee.Amount < 0 {
		return nil, fmt.Errorf("fee: %w: %s", ErrInvalidAsset, p.Fee)
	}
	if !p.Fee.Symbol.Equal(x.feeSym) {
		return nil, fmt.Errorf("fee: %w: fees must be in %s, got %s", ErrCurrencyMismatch, x.feeSym, p.Fee.Symbol)
	}
	if err := x.checkRegistered(p.Fee); err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}
	if p.Fee.Amount > 0 {
		if err := x.checkAllowance(p.Owner, p.Fee); err != nil {
			return nil, fmt.Errorf("fee: %w", err)
		}
	}

	if len(p.Memo) > MaxMemoLen {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrMemoTooLong, len(p.Memo), MaxMemoLen)
	}

	o := &Order{
		Key:       p.Key,
		Owner:     p.Owner,
		Relayer:   p.Relayer,
		Offered:   p.Offered,
		Requested: p.Requested,
		Fee:       p.Fee,
		Memo:      p.Memo,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
	if err := x.store.Insert(o); err != nil {
		return nil, err
	}

	x.log.Infow("order_created",
		"key", o.Key, "owner", o.Owner.Hex(),
		"offered", o.Offered.String(), "requested", o.Requested.String(),
		"fee", o.Fee.String(), "expires", o.ExpiresAt)
	x.emit(Event{Type: EventOrderCreated, Order: o})
	return o, nil
}

// Edit rewrites an order's amounts, counter asset, and expiry. The offered
// asset's identity, owner, relayer, fee, and key are immutable.
func (x *Exchange) Edit(caller common.Address, key uint64, newOffered, newRequested asset.Asset, newExpiresAt int64) (*Order, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, err := x.store.Get(key)
	if err != nil {
		return nil, err
	}
	if caller != o.Owner {
		return nil, fmt.Errorf("%w: caller %s, owner %s", ErrUnauthorized, caller.Hex(), o.Owner.Hex())
	}

	if err := checkPositive(newOffered); err != nil {
		return nil, fmt.Errorf("offered: %w", err)
	}
	if err := x.checkRegistered(newOffered); err != nil {
		return nil, fmt.Errorf("offered: %w", err)
	}
	if !newOffered.Symbol.Equal(o.Offered.Symbol) {
		return nil, fmt.Errorf("%w: cannot change offered asset from %s to %s",
			ErrCurrencyMismatch, o.Offered.Symbol, newOffered.Symbol)
	}
	if err := x.checkAllowance(o.Owner, newOffered); err != nil {
		return nil, fmt.Errorf("offered: %w", err)
	}

	if err := checkPositive(newRequested); err != nil {
		return nil, fmt.Errorf("requested: %w", err)
	}
	if err := x.checkRegistered(newRequested); err != nil {
		return nil, fmt.Errorf("requested: %w", err)
	}

	o.Offered.Amount = newOffered.Amount
	o.Requested = newRequested
	o.ExpiresAt = newExpiresAt
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := x.store.Update(o); err != nil {
		return nil, err
	}

	x.log.Infow("order_edited",
		"key", o.Key, "offered", o.Offered.String(),
		"requested", o.Requested.String(), "expires", o.ExpiresAt)
	x.emit(Event{Type: EventOrderEdited, Order: o})
	return o, nil
}

// Cancel removes an order. Owner only, unconditional otherwise.
func (x *Exchange) Cancel(caller common.Address, key uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, err := x.store.Get(key)
	if err != nil {
		return err
	}
	if caller != o.Owner {
		return fmt.Errorf("%w: caller %s, owner %s", ErrUnauthorized, caller.Hex(), o.Owner.Hex())
	}
	if err := x.store.Delete(key); err != nil {
		return err
	}

	x.log.Infow("order_cancelled", "key", key, "owner", o.Owner.Hex())
	x.emit(Event{Type: EventOrderCancelled, Order: o})
	return nil
}

// Retire removes an expired order. Anyone may trigger the cleanup; the time
// gate is the only check.
func (x *Exchange) Retire(key uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, err := x.store.Get(key)
	if err != nil {
		return err
	}
	now := x.clock.Now().Unix()
	if now <= o.ExpiresAt {
		return fmt.Errorf("%w: key %d expires at %d, now %d", ErrNotExpired, key, o.ExpiresAt, now)
	}
	if err := x.store.Delete(key); err != nil {
		return err
	}

	x.log.Infow("order_retired", "key", key, "expired", o.ExpiresAt, "now", now)
	x.emit(Event{Type: EventOrderRetired, Order: o})
	return nil
}

// Order returns a read-only copy of the order under key.
func (x *Exchange) Order(key uint64) (*Order, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.store.Get(key)
}

// Orders returns all live orders sorted by key.
func (x *Exchange) Orders() ([]*Order, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.store.List()
}

// checkPositive enforces validity plus a strictly positive amount.
func checkPositive(a asset.Asset) error {
	if !a.IsValid() || a.Amount <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, a)
	}
	return nil
}

// checkRegistered verifies the symbol against the ledger's currency registry,
// including precision: "USD,2" and "USD,4" are different currencies and the
// registry's precision wins.
func (x *Exchange) checkRegistered(a asset.Asset) error {
	info, err := x.ledger.Currency(a.Symbol)
	if err != nil {
		return err
	}
	if !a.Symbol.Equal(info.Supply.Symbol) {
		return fmt.Errorf("%w: %s vs registered %s", ErrCurrencyMismatch, a.Symbol, info.Supply.Symbol)
	}
	return nil
}

// checkAllowance verifies the owner pre-authorized the exchange to spend at
// least a. A missing allowance record is an ordinary validation failure, not
// a fault.
func (x *Exchange) checkAllowance(owner common.Address, a asset.Asset) error {
	cap, err := x.ledger.Allowance(owner, x.self, a.Symbol)
	if err != nil {
		if errors.Is(err, ledger.ErrNoAllowance) {
			return fmt.Errorf("%w: %v", ErrInsufficientAllowance, err)
		}
		return err
	}
	if !cap.IsValid() || cap.Amount <= 0 {
		return fmt.Errorf("%w: approved cap %s", ErrInsufficientAllowance, cap)
	}
	if !cap.Symbol.Equal(a.Symbol) {
		return fmt.Errorf("%w: allowance in %s, order in %s", ErrCurrencyMismatch, cap.Symbol, a.Symbol)
	}
	if cap.Amount < a.Amount {
		return fmt.Errorf("%w: approved %s, order needs %s", ErrInsufficientAllowance, cap, a)
	}
	return nil
}
