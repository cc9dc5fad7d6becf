package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/transledger/ibex/pkg/asset"
	"github.com/transledger/ibex/pkg/exchange"
	"github.com/transledger/ibex/pkg/ledger"
)

// Server exposes the exchange over REST plus a WebSocket event stream.
//
// Caller identity comes from the X-Caller-Address header: the server is meant
// to sit behind an authenticating gateway that verifies signatures and stamps
// the header. The core itself only ever sees a pre-authenticated address.
type Server struct {
	ex     *exchange.Exchange
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer wires routes and subscribes the hub to exchange events.
func NewServer(ex *exchange.Exchange, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ex:     ex,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		log:    logger.Sugar(),
	}
	ex.SetEventSink(s.hub.BroadcastEvent)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/{key}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{key}/edit", s.handleEditOrder).Methods("POST")
	api.HandleFunc("/orders/{key}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{key}/retire", s.handleRetireOrder).Methods("POST")
	api.HandleFunc("/settlements", s.handleSettle).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the http.Handler with CORS applied; exposed separately so
// tests can drive the server through httptest.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Caller-Address"},
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves until the listener fails.
func (s *Server) Start(addr string, allowedOrigins []string) error {
	go s.hub.Run()
	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler(allowedOrigins))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.ex.Orders()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	o, err := s.ex.Order(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	if !common.IsHexAddress(req.Owner) || !common.IsHexAddress(req.Relayer) {
		writeBadRequest(w, "owner and relayer must be hex addresses")
		return
	}
	offered, err := asset.Parse(req.Offered)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	requested, err := asset.Parse(req.Requested)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	fee, err := asset.Parse(req.Fee)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	o, err := s.ex.Create(caller, exchange.CreateParams{
		Owner:     common.HexToAddress(req.Owner),
		Relayer:   common.HexToAddress(req.Relayer),
		Key:       req.Key,
		Offered:   offered,
		Requested: requested,
		Fee:       fee,
		Memo:      req.Memo,
		CreatedAt: req.CreatedAt,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderInfo(o))
}

func (s *Server) handleEditOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req EditOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	offered, err := asset.Parse(req.Offered)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	requested, err := asset.Parse(req.Requested)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	o, err := s.ex.Edit(caller, key, offered, requested, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	if err := s.ex.Cancel(caller, key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRetireOrder(w http.ResponseWriter, r *http.Request) {
	// Anyone may retire an expired order; no caller header required.
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	if err := s.ex.Retire(key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retired"})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	qtyMaker, err := asset.Parse(req.QtyMaker)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	deductMaker, err := asset.Parse(req.DeductMaker)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	qtyTaker, err := asset.Parse(req.QtyTaker)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	deductTaker, err := asset.Parse(req.DeductTaker)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := s.ex.Settle(exchange.SettleParams{
		MakerKey:    req.MakerKey,
		TakerKey:    req.TakerKey,
		QtyMaker:    qtyMaker,
		DeductMaker: deductMaker,
		QtyTaker:    qtyTaker,
		DeductTaker: deductTaker,
		Memo:        req.Memo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementInfo(res))
}

// callerAddress extracts the pre-authenticated identity header.
func callerAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	h := r.Header.Get("X-Caller-Address")
	if !common.IsHexAddress(h) {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing or malformed X-Caller-Address header"})
		return common.Address{}, false
	}
	return common.HexToAddress(h), true
}

func pathKey(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	key, err := strconv.ParseUint(mux.Vars(r)["key"], 10, 64)
	if err != nil {
		writeBadRequest(w, "order key must be an unsigned integer")
		return 0, false
	}
	return key, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// writeError maps core errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exchange.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, exchange.ErrDuplicateKey):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrInvalidAsset),
		errors.Is(err, exchange.ErrCurrencyMismatch),
		errors.Is(err, exchange.ErrMemoTooLong),
		errors.Is(err, exchange.ErrNotExpired),
		errors.Is(err, exchange.ErrAmountExceedsOrder),
		errors.Is(err, exchange.ErrPriceBelowAsk),
		errors.Is(err, exchange.ErrPriceDrift),
		errors.Is(err, ledger.ErrUnknownCurrency):
		status = http.StatusBadRequest
	case errors.Is(err, exchange.ErrInsufficientAllowance),
		errors.Is(err, ledger.ErrNoAllowance),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, ledger.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
