package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/service"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/httputil"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

// StockHandler handles stock endpoints
type StockHandler struct {
	ledger     *service.Ledger
	transfers  *service.TransferService
	reconciler *service.Reconciler
	logger     *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(ledger *service.Ledger, transfers *service.TransferService, reconciler *service.Reconciler, log *logger.Logger) *StockHandler {
	return &StockHandler{
		ledger:     ledger,
		transfers:  transfers,
		reconciler: reconciler,
		logger:     log,
	}
}

// Routes returns the stock router, mounted under /api/v1/stock
func (h *StockHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/receipts", h.Receive)
	r.Post("/transfers", h.Transfer)
	r.Get("/lots", h.ListLots)
	r.Get("/movements", h.ListMovements)
	r.Get("/balance", h.Balance)
	r.Get("/reconciliation", h.Reconciliation)
	return r
}

type receiptRequest struct {
	ProductID  string `json:"product_id" validate:"required"`
	LocationID string `json:"location_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	ExpiryDate string `json:"expiry_date" validate:"required,date"`
	LotNumber  string `json:"lot_number" validate:"max=64"`
	OriginKind string `json:"origin_kind" validate:"required,oneof=purchase delivery"`
	OriginID   string `json:"origin_id" validate:"required"`
}

// Receive records goods arriving at a location
func (h *StockHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}
	if err := httputil.ValidateCtx(r.Context(), &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	expiry, _ := time.Parse("2006-01-02", req.ExpiryDate)
	lot, err := h.ledger.Receive(r.Context(), service.Receipt{
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		Quantity:   req.Quantity,
		ExpiryDate: expiry,
		LotNumber:  req.LotNumber,
		Origin:     repository.Origin{Kind: repository.OriginKind(req.OriginKind), ID: req.OriginID},
	})
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, lot)
}

// Transfer moves stock between two locations
func (h *StockHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req service.TransferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	result, err := h.transfers.Transfer(r.Context(), req)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, result)
}

// ListLots lists lots, optionally including exhausted ones
func (h *StockHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.LotFilter{
		ProductID:  q.Get("product_id"),
		LocationID: q.Get("location_id"),
	}
	if v := q.Get("include_empty"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.ErrorLocalized(w, r, errors.Validation(map[string]string{"include_empty": "must be a boolean"}))
			return
		}
		filter.IncludeEmpty = b
	}

	lots, err := h.ledger.ListLots(r.Context(), filter)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// ListMovements lists ledger entries, newest first
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := repository.MovementFilter{
		ProductID:  q.Get("product_id"),
		LocationID: q.Get("location_id"),
		Kind:       repository.MovementKind(q.Get("kind")),
		OriginKind: repository.OriginKind(q.Get("origin_kind")),
		OriginID:   q.Get("origin_id"),
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	if filter.Kind != "" && filter.Kind != repository.MovementIn && filter.Kind != repository.MovementOut {
		httputil.ErrorLocalized(w, r, errors.Validation(map[string]string{"kind": "must be one of: IN, OUT"}))
		return
	}
	if filter.OriginKind != "" && !filter.OriginKind.Valid() {
		httputil.ErrorLocalized(w, r, errors.Validation(map[string]string{"origin_kind": "unknown origin kind"}))
		return
	}
	if filter.From, err = parseDay(q.Get("from")); err != nil {
		httputil.ErrorLocalized(w, r, errors.Validation(map[string]string{"from": "must be a date formatted YYYY-MM-DD"}))
		return
	}
	to, err := parseDay(q.Get("to"))
	if err != nil {
		httputil.ErrorLocalized(w, r, errors.Validation(map[string]string{"to": "must be a date formatted YYYY-MM-DD"}))
		return
	}
	if to != nil {
		next := to.AddDate(0, 0, 1)
		filter.To = &next
	}

	movements, total, err := h.ledger.ListMovements(r.Context(), filter)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, &httputil.Meta{
		Limit:  page.Limit,
		Offset: page.Offset,
		Total:  total,
	})
}

// Balance compares on-hand and ledger totals for a product at a location
func (h *StockHandler) Balance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	balance, err := h.ledger.Balance(r.Context(), q.Get("product_id"), q.Get("location_id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, balance)
}

// Reconciliation lists (product, location) pairs whose lots disagree with the ledger
func (h *StockHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.reconciler.Check(r.Context())
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, mismatches)
}

// parseDay parses an optional YYYY-MM-DD query value
func parseDay(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
