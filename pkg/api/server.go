// Package api exposes the escrow contracts over REST plus a WebSocket event
// feed and Prometheus metrics. Mutating endpoints drive ledger transactions;
// read endpoints observe contract state under the ledger's view lock.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitlock/pkg/asset"
	"github.com/uhyunpark/limitlock/pkg/escrow"
	"github.com/uhyunpark/limitlock/pkg/ledger"
)

// Server handles REST, WebSocket and metrics traffic for one ledger.
type Server struct {
	ledger    *ledger.Ledger
	contracts map[common.Address]*escrow.Contract
	order     []common.Address // deployment order, for stable listings
	router    *mux.Router
	hub       *Hub
	registry  *prometheus.Registry
	log       *zap.SugaredLogger
}

// NewServer creates an API server over the given ledger and escrow
// instances.
func NewServer(l *ledger.Ledger, contracts []*escrow.Contract, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		ledger:    l,
		contracts: make(map[common.Address]*escrow.Contract, len(contracts)),
		router:    mux.NewRouter(),
		hub:       NewHub(log),
		registry:  prometheus.NewRegistry(),
		log:       log,
	}
	for _, ct := range contracts {
		s.contracts[ct.Address()] = ct
		s.order = append(s.order, ct.Address())
	}
	registerMetrics(s.registry)
	s.setupRoutes()
	go s.hub.Run()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/contracts", s.handleListContracts).Methods("GET")
	api.HandleFunc("/contracts/{address}/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/contracts/{address}/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/fill", s.handleFillOrder).Methods("POST")
	api.HandleFunc("/orders/fill-with-other", s.handleFillWithOther).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP.
func (s *Server) Start(addr string, allowedOrigins []string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ==============================
// Mutating handlers
// ==============================

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddr(w, req.Caller, "caller")
	if !ok {
		return
	}
	contract, ok := parseAddr(w, req.Contract, "contract")
	if !ok {
		return
	}

	payment := req.Escrow.toPayment()
	ret, err := s.ledger.Execute(caller, contract, escrow.FuncCreateOrder, escrow.CreateOrderArgs{
		RequestedClass:  req.RequestedClass,
		RequestedAmount: req.RequestedAmount,
	}, &payment)
	if err != nil {
		s.respondTxError(w, err)
		return
	}

	var res escrow.CreateOrderResult
	if err := json.Unmarshal(ret, &res); err != nil {
		respondError(w, http.StatusInternalServerError, "decode result", err.Error())
		return
	}

	ordersCreated.Inc()
	s.refreshLiveOrders()
	s.hub.Broadcast(OrderEvent{Type: "order_created", Contract: contract.Hex(), OrderID: res.OrderID, Caller: caller.Hex()})
	respondJSON(w, CreateOrderResponse(res))
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	var req FillOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddr(w, req.Caller, "caller")
	if !ok {
		return
	}
	contract, ok := parseAddr(w, req.Contract, "contract")
	if !ok {
		return
	}

	payment := req.Payment.toPayment()
	_, err := s.ledger.Execute(caller, contract, escrow.FuncFillOrder,
		escrow.FillOrderArgs{OrderID: req.OrderID}, &payment)
	if err != nil {
		s.respondTxError(w, err)
		return
	}

	ordersFilled.WithLabelValues("direct").Inc()
	s.refreshLiveOrders()
	s.hub.Broadcast(OrderEvent{Type: "order_filled", Contract: contract.Hex(), OrderID: req.OrderID, Caller: caller.Hex()})
	respondJSON(w, map[string]string{"status": "filled"})
}

func (s *Server) handleFillWithOther(w http.ResponseWriter, r *http.Request) {
	var req FillWithOtherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddr(w, req.Caller, "caller")
	if !ok {
		return
	}
	contract, ok := parseAddr(w, req.Contract, "contract")
	if !ok {
		return
	}
	other, ok := parseAddr(w, req.OtherContract, "otherContract")
	if !ok {
		return
	}

	_, err := s.ledger.Execute(caller, contract, escrow.FuncFillOrderWithOther, escrow.FillOrderWithOtherArgs{
		LocalOrderID:    req.LocalOrderID,
		OtherContract:   other,
		OtherOrderID:    req.OtherOrderID,
		ExpectedPayment: req.ExpectedPayment.toPayment(),
	}, nil)
	if err != nil {
		s.respondTxError(w, err)
		return
	}

	ordersFilled.WithLabelValues("with_other").Inc()
	s.refreshLiveOrders()
	s.hub.Broadcast(OrderEvent{Type: "arb_filled", Contract: contract.Hex(), OrderID: req.LocalOrderID, Caller: caller.Hex()})
	respondJSON(w, map[string]string{"status": "filled"})
}

// ==============================
// Read handlers
// ==============================

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	out := make([]ContractInfo, 0, len(s.order))
	s.ledger.View(func() {
		for _, addr := range s.order {
			out = append(out, ContractInfo{
				Address:    addr.Hex(),
				LiveOrders: len(s.contracts[addr].Orders()),
			})
		}
	})
	respondJSON(w, out)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	ct, ok := s.contractFromPath(w, r)
	if !ok {
		return
	}
	var out []OrderInfo
	s.ledger.View(func() {
		for _, o := range ct.Orders() {
			out = append(out, orderInfo(o))
		}
	})
	if out == nil {
		out = []OrderInfo{}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ct, ok := s.contractFromPath(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	var (
		info  OrderInfo
		found bool
	)
	s.ledger.View(func() {
		if o, ok := ct.Order(id); ok {
			info = orderInfo(o)
			found = true
		}
	})
	if !found {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addrStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addrStr)
	native, holdings := s.ledger.AccountInfo(addr)

	out := AccountInfo{
		Address:  addr.Hex(),
		Native:   native.Dec(),
		Holdings: make(map[string]string, len(holdings)),
	}
	for class, amt := range holdings {
		out.Holdings[class] = amt.Dec()
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func (s *Server) contractFromPath(w http.ResponseWriter, r *http.Request) (*escrow.Contract, bool) {
	addrStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrStr) {
		respondError(w, http.StatusBadRequest, "invalid contract address", "")
		return nil, false
	}
	ct, ok := s.contracts[common.HexToAddress(addrStr)]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown contract", "")
		return nil, false
	}
	return ct, true
}

func (s *Server) refreshLiveOrders() {
	total := 0
	s.ledger.View(func() {
		for _, ct := range s.contracts {
			total += len(ct.Orders())
		}
	})
	liveOrders.Set(float64(total))
}

// respondTxError maps a reverted transaction to an HTTP status and counts
// the rejection. The raw failure reason goes to the client unchanged;
// nested-call failures are not treated differently from local ones.
func (s *Server) respondTxError(w http.ResponseWriter, err error) {
	reason := "internal"
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, escrow.ErrOrderNotFound):
		reason, status = "order_not_found", http.StatusNotFound
	case errors.Is(err, ledger.ErrUnknownContract):
		reason, status = "unknown_contract", http.StatusNotFound
	case errors.Is(err, escrow.ErrAmountMismatch):
		reason, status = "amount_mismatch", http.StatusBadRequest
	case errors.Is(err, escrow.ErrAssetKindMismatch):
		reason, status = "asset_kind_mismatch", http.StatusBadRequest
	case errors.Is(err, escrow.ErrInsufficientEscrow):
		reason, status = "insufficient_escrow", http.StatusBadRequest
	case errors.Is(err, escrow.ErrNoPaymentAttached):
		reason, status = "no_payment", http.StatusBadRequest
	case errors.Is(err, asset.ErrZeroAmount):
		reason, status = "zero_amount", http.StatusBadRequest
	case errors.Is(err, asset.ErrInvalidAsset):
		reason, status = "invalid_asset", http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		reason, status = "insufficient_funds", http.StatusBadRequest
	}
	callsRejected.WithLabelValues(reason).Inc()
	respondError(w, status, "transaction reverted", err.Error())
}

func parseAddr(w http.ResponseWriter, s, field string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid "+field+" address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "detail": detail})
}
