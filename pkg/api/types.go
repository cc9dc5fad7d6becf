package api

import (
	"github.com/transledger/ibex/pkg/exchange"
)

// Request/response shapes for the REST endpoints. Assets travel as their
// string form ("100.0000 USD") so clients never deal in raw fixed-point.

type CreateOrderRequest struct {
	Owner     string `json:"owner"`
	Relayer   string `json:"relayer"`
	Key       uint64 `json:"key"`
	Offered   string `json:"offered"`
	Requested string `json:"requested"`
	Fee       string `json:"fee"`
	Memo      string `json:"memo,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

type EditOrderRequest struct {
	Offered   string `json:"offered"`
	Requested string `json:"requested"`
	ExpiresAt int64  `json:"expiresAt"`
}

type SettleRequest struct {
	MakerKey    uint64 `json:"makerKey"`
	TakerKey    uint64 `json:"takerKey"`
	QtyMaker    string `json:"qtyMaker"`
	DeductMaker string `json:"deductMaker"`
	QtyTaker    string `json:"qtyTaker"`
	DeductTaker string `json:"deductTaker"`
	Memo        string `json:"memo,omitempty"`
}

type OrderInfo struct {
	Key       uint64 `json:"key"`
	Owner     string `json:"owner"`
	Relayer   string `json:"relayer"`
	Offered   string `json:"offered"`
	Requested string `json:"requested"`
	Fee       string `json:"fee"`
	Memo      string `json:"memo,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

type SettlementInfo struct {
	MakerKey    uint64  `json:"makerKey"`
	TakerKey    uint64  `json:"takerKey"`
	Price       float64 `json:"price"`
	MakerFilled bool    `json:"makerFilled"`
	TakerFilled bool    `json:"takerFilled"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func orderInfo(o *exchange.Order) OrderInfo {
	return OrderInfo{
		Key:       o.Key,
		Owner:     o.Owner.Hex(),
		Relayer:   o.Relayer.Hex(),
		Offered:   o.Offered.String(),
		Requested: o.Requested.String(),
		Fee:       o.Fee.String(),
		Memo:      o.Memo,
		CreatedAt: o.CreatedAt,
		ExpiresAt: o.ExpiresAt,
	}
}

func settlementInfo(s *exchange.Settlement) SettlementInfo {
	return SettlementInfo{
		MakerKey:    s.MakerKey,
		TakerKey:    s.TakerKey,
		Price:       s.Price,
		MakerFilled: s.MakerFilled,
		TakerFilled: s.TakerFilled,
	}
}
