package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bazaar/core"
	"bazaar/core/events"
	"bazaar/core/types"
	"bazaar/gateway/middleware"
	"bazaar/native/escrow"
	"bazaar/native/market"
	"bazaar/native/orders"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the HTTP front-end for the marketplace node. It is a thin
// facade: every invariant lives in the engines, the server only translates
// requests and error kinds.
type Server struct {
	node          *core.Node
	log           *events.Log
	logger        *slog.Logger
	authenticator *middleware.Authenticator
	rateLimiter   *middleware.RateLimiter
	observability *middleware.Observability
}

// New constructs the gateway server. Middleware components may be nil, which
// disables the corresponding concern.
func New(node *core.Node, eventLog *events.Log, logger *slog.Logger, auth *middleware.Authenticator, limiter *middleware.RateLimiter, obs *middleware.Observability) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:          node,
		log:           eventLog,
		logger:        logger,
		authenticator: auth,
		rateLimiter:   limiter,
		observability: obs,
	}
}

// Router assembles the chi router with per-route-group middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.observability != nil {
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			s.observability.MetricsHandler().ServeHTTP(w, req)
		})
	}
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(gr chi.Router) {
		gr.Use(s.routeMiddleware("market")...)
		gr.Post("/listings", s.handleCreateListing)
		gr.Patch("/listings/{id}", s.handleUpdateListing)
		gr.Get("/listings/{id}", s.handleGetListing)
	})

	r.Group(func(gr chi.Router) {
		gr.Use(s.routeMiddleware("orders")...)
		gr.Post("/orders", s.handleCreateOrder)
		gr.Get("/orders/{id}", s.handleGetOrder)
		gr.Get("/orders/{id}/escrow", s.handleGetOrderEscrow)
		gr.Post("/orders/{id}/pay", s.handlePayOrder)
		gr.Post("/orders/{id}/ship", s.handleShipOrder)
		gr.Post("/orders/{id}/confirm", s.handleConfirmOrder)
		gr.Post("/orders/{id}/cancel", s.handleCancelOrder)
	})

	r.Group(func(gr chi.Router) {
		gr.Use(s.routeMiddleware("escrow")...)
		gr.Get("/escrows/{id}", s.handleGetEscrow)
		gr.Post("/escrows/{id}/dispute", s.handleDisputeEscrow)
		gr.Post("/escrows/{id}/release", s.handleReleaseEscrow)
		gr.Post("/escrows/{id}/refund", s.handleRefundEscrow)
	})

	r.Group(func(gr chi.Router) {
		gr.Use(s.adminMiddleware()...)
		gr.Post("/admin/mint", s.handleMint)
		gr.Post("/admin/pause", s.handlePause)
	})

	r.Get("/events", s.handleEvents)
	return r
}

func (s *Server) routeMiddleware(group string) []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler
	if s.rateLimiter != nil {
		chain = append(chain, s.rateLimiter.Middleware(group))
	}
	if s.authenticator != nil {
		chain = append(chain, s.authenticator.Middleware())
	}
	if s.observability != nil {
		chain = append(chain, s.observability.Middleware(group))
	}
	return chain
}

func (s *Server) adminMiddleware() []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler
	if s.authenticator != nil {
		chain = append(chain, s.authenticator.Middleware(middleware.ScopeAdmin))
	}
	if s.observability != nil {
		chain = append(chain, s.observability.Middleware("admin"))
	}
	return chain
}

// --- request/response shapes ---

type listingPayload struct {
	ListingID string `json:"listingId"`
	Seller    string `json:"seller"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Stock     uint64 `json:"stock"`
	MetaRef   string `json:"metaRef"`
	Active    bool   `json:"active"`
	Caller    string `json:"caller"`
}

type orderPayload struct {
	OrderID   string `json:"orderId"`
	ListingID string `json:"listingId"`
	Quantity  uint64 `json:"quantity"`
	Amount    string `json:"amount"`
	Notes     string `json:"notes"`
	Reason    string `json:"reason"`
	Caller    string `json:"caller"`
}

type adminPayload struct {
	Address  string `json:"address"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Module   string `json:"module"`
	Paused   bool   `json:"paused"`
	Caller   string `json:"caller"`
}

func listingView(l *market.Listing) map[string]any {
	return map[string]any{
		"listingId": l.ID,
		"seller":    types.FormatAddress(l.Seller),
		"price":     l.Price.String(),
		"currency":  l.Currency,
		"stock":     l.Stock,
		"metaRef":   hex.EncodeToString(l.MetaRef[:]),
		"active":    l.Active,
		"createdAt": l.CreatedAt,
	}
}

func orderView(o *orders.Order) map[string]any {
	view := map[string]any{
		"orderId":   o.ID,
		"listingId": o.ListingID,
		"buyer":     types.FormatAddress(o.Buyer),
		"seller":    types.FormatAddress(o.Seller),
		"quantity":  o.Quantity,
		"total":     o.Total.String(),
		"currency":  o.Currency,
		"status":    o.Status.String(),
		"createdAt": o.CreatedAt,
		"updatedAt": o.UpdatedAt,
	}
	if o.EscrowID != ([32]byte{}) {
		view["escrowId"] = hex.EncodeToString(o.EscrowID[:])
	}
	return view
}

func escrowView(e *escrow.Escrow) map[string]any {
	return map[string]any{
		"escrowId":      hex.EncodeToString(e.ID[:]),
		"orderId":       e.OrderID,
		"buyer":         types.FormatAddress(e.Payer),
		"seller":        types.FormatAddress(e.Payee),
		"amount":        e.Amount.String(),
		"currency":      e.Currency,
		"status":        e.Status.String(),
		"createdAt":     e.CreatedAt,
		"autoReleaseAt": e.AutoReleaseAt,
		"disputed":      e.Disputed,
	}
}

// --- handlers ---

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var payload listingPayload
	if !s.decode(w, r, &payload) {
		return
	}
	seller, ok := s.caller(w, r, payload.Seller, payload.Caller)
	if !ok {
		return
	}
	price, ok := s.amount(w, payload.Price)
	if !ok {
		return
	}
	metaRef, ok := s.metaRef(w, payload.MetaRef)
	if !ok {
		return
	}
	id := strings.TrimSpace(payload.ListingID)
	if id == "" {
		id = uuid.NewString()
	}
	listing, err := s.node.CreateListing(id, seller, price, payload.Currency, payload.Stock, metaRef)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, listingView(listing))
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	var payload listingPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, payload.Caller)
	if !ok {
		return
	}
	price, ok := s.amount(w, payload.Price)
	if !ok {
		return
	}
	listing, err := s.node.UpdateListing(chi.URLParam(r, "id"), caller, price, payload.Stock, payload.Active)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listingView(listing))
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.node.GetListing(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listingView(listing))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var payload orderPayload
	if !s.decode(w, r, &payload) {
		return
	}
	buyer, ok := s.caller(w, r, payload.Caller)
	if !ok {
		return
	}
	id := strings.TrimSpace(payload.OrderID)
	if id == "" {
		id = uuid.NewString()
	}
	order, err := s.node.CreateOrder(id, payload.ListingID, payload.Quantity, buyer)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, orderView(order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.node.GetOrder(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orderView(order))
}

func (s *Server) handleGetOrderEscrow(w http.ResponseWriter, r *http.Request) {
	record, err := s.node.GetEscrowByOrder(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, escrowView(record))
}

func (s *Server) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	var payload orderPayload
	if !s.decode(w, r, &payload) {
		return
	}
	payer, ok := s.caller(w, r, payload.Caller)
	if !ok {
		return
	}
	value, ok := s.amount(w, payload.Amount)
	if !ok {
		return
	}
	order, err := s.node.PayOrder(chi.URLParam(r, "id"), payer, value)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orderView(order))
}

func (s *Server) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	var payload orderPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, payload.Caller)
	if !ok {
		return
	}
	order, err := s.node.MarkShipped(chi.URLParam(r, "id"), caller, payload.Notes)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orderView(order))
}

func (s *Server) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var payload orderPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, payload.Caller)
	if !ok {
		return
	}
	order, err := s.node.ConfirmDelivery(chi.URLParam(r, "id"), caller)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orderView(order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var payload orderPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, payload.Caller)
	if !ok {
		return
	}
	order, err := s.node.CancelOrder(chi.URLParam(r, "id"), payload.Reason, caller)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orderView(order))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	record, err := s.node.GetEscrow(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, escrowView(record))
}

func (s *Server) handleDisputeEscrow(w http.ResponseWriter, r *http.Request) {
	s.escrowAction(w, r, s.node.DisputeEscrow)
}

func (s *Server) handleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	s.escrowAction(w, r, s.node.ReleaseEscrow)
}

func (s *Server) handleRefundEscrow(w http.ResponseWriter, r *http.Request) {
	s.escrowAction(w, r, s.node.RefundEscrow)
}

func (s *Server) escrowAction(w http.ResponseWriter, r *http.Request, action func([32]byte, [20]byte) error) {
	var payload orderPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, payload.Caller)
	if !ok {
		return
	}
	id, ok := s.escrowID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := action(id, caller); err != nil {
		s.writeDomainError(w, err)
		return
	}
	record, err := s.node.GetEscrow(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, escrowView(record))
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var payload adminPayload
	if !s.decode(w, r, &payload) {
		return
	}
	addr, err := types.ParseAddress(payload.Address)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := s.amount(w, payload.Amount)
	if !ok {
		return
	}
	if err := s.node.Mint(addr, payload.Currency, amount); err != nil {
		s.writeDomainError(w, err)
		return
	}
	balance, err := s.node.BalanceOf(addr, strings.ToUpper(strings.TrimSpace(payload.Currency)))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address": payload.Address,
		"balance": balance.String(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var payload adminPayload
	if !s.decode(w, r, &payload) {
		return
	}
	module := strings.TrimSpace(payload.Module)
	if module == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("module required"))
		return
	}
	s.node.SetPaused(module, payload.Paused)
	s.writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": payload.Paused})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	s.writeJSON(w, http.StatusOK, s.log.Tail(limit))
}

// --- helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// caller resolves the acting address: the authenticated token subject wins,
// otherwise the first non-empty candidate from the request body is accepted
// (development mode with auth disabled).
func (s *Server) caller(w http.ResponseWriter, r *http.Request, candidates ...string) ([20]byte, bool) {
	if caller, ok := middleware.CallerFromContext(r.Context()); ok {
		return caller, true
	}
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		addr, err := types.ParseAddress(candidate)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return [20]byte{}, false
		}
		return addr, true
	}
	s.writeError(w, http.StatusUnauthorized, errors.New("caller identity required"))
	return [20]byte{}, false
}

func (s *Server) amount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("amount required"))
		return nil, false
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errors.New("amount must be a base-10 integer"))
		return nil, false
	}
	return value, true
}

func (s *Server) metaRef(w http.ResponseWriter, raw string) ([32]byte, bool) {
	var ref [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return ref, true
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != len(ref) {
		s.writeError(w, http.StatusBadRequest, errors.New("metaRef must be 32 bytes of hex"))
		return ref, false
	}
	copy(ref[:], decoded)
	return ref, true
}

func (s *Server) escrowID(w http.ResponseWriter, raw string) ([32]byte, bool) {
	var id [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil || len(decoded) != len(id) {
		s.writeError(w, http.StatusBadRequest, errors.New("escrow id must be 32 bytes of hex"))
		return id, false
	}
	copy(id[:], decoded)
	return id, true
}

// writeDomainError maps engine error kinds onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrInvalidInput),
		errors.Is(err, escrow.ErrInvalidInput),
		errors.Is(err, orders.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, orders.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrAlreadyExists),
		errors.Is(err, escrow.ErrAlreadyExists),
		errors.Is(err, orders.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, market.ErrUnauthorized),
		errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, orders.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, market.ErrInactive),
		errors.Is(err, market.ErrInsufficientStock),
		errors.Is(err, escrow.ErrWrongState),
		errors.Is(err, orders.ErrWrongState),
		errors.Is(err, orders.ErrIncorrectAmount),
		errors.Is(err, escrow.ErrTransferFailed):
		status = http.StatusConflict
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}
