package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/repository"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/service"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/httputil"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

// PrestationHandler handles service delivery and pricing endpoints
type PrestationHandler struct {
	deliveries *service.DeliveryService
	pricing    *service.PricingResolver
	logger     *logger.Logger
}

// NewPrestationHandler creates a new prestation handler
func NewPrestationHandler(deliveries *service.DeliveryService, pricing *service.PricingResolver, log *logger.Logger) *PrestationHandler {
	return &PrestationHandler{
		deliveries: deliveries,
		pricing:    pricing,
		logger:     log,
	}
}

// Routes returns the prestation router, mounted under /api/v1/prestations
func (h *PrestationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/status", h.ChangeStatus)
		r.Post("/stock/apply", h.ApplyStock)
		r.Post("/stock/revert", h.RevertStock)
		r.Post("/total", h.RecalculateTotal)
	})
	return r
}

// PricingRoutes returns the pricing router, mounted under /api/v1/pricing
func (h *PrestationHandler) PricingRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/resolve", h.ResolvePricing)
	return r
}

// Create records a new delivery
func (h *PrestationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.DeliveryInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	d, err := h.deliveries.Create(r.Context(), in)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, d)
}

// Get returns a delivery with its lines
func (h *PrestationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.deliveries.Get(r.Context(), id)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, d)
}

// List lists deliveries, most recent first
func (h *PrestationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := repository.DeliveryFilter{
		PatientID:      q.Get("patient_id"),
		PractitionerID: q.Get("practitioner_id"),
		LocationID:     q.Get("location_id"),
		Limit:          page.Limit,
		Offset:         page.Offset,
	}

	details := map[string]string{}
	if v := q.Get("status"); v != "" {
		s, err := domain.ParseStatus(v)
		if err != nil {
			details["status"] = "must be one of: PLANNED, PERFORMED, PAID, CANCELLED"
		}
		filter.Status = s
	}
	for key, v := range map[string]string{
		"patient_id":      filter.PatientID,
		"practitioner_id": filter.PractitionerID,
		"location_id":     filter.LocationID,
	} {
		if v == "" {
			continue
		}
		if _, err := uuid.Parse(v); err != nil {
			details[key] = "must be a valid UUID"
		}
	}
	if filter.From, err = parseDay(q.Get("from")); err != nil {
		details["from"] = "must be a date formatted YYYY-MM-DD"
	}
	to, err := parseDay(q.Get("to"))
	if err != nil {
		details["to"] = "must be a date formatted YYYY-MM-DD"
	}
	if len(details) > 0 {
		httputil.ErrorLocalized(w, r, errors.Validation(details))
		return
	}
	if to != nil {
		next := to.AddDate(0, 0, 1)
		filter.To = &next
	}

	deliveries, total, err := h.deliveries.List(r.Context(), filter)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, deliveries, &httputil.Meta{
		Limit:  page.Limit,
		Offset: page.Offset,
		Total:  total,
	})
}

// Update replaces a delivery's content
func (h *PrestationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var in service.DeliveryInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	d, err := h.deliveries.Update(r.Context(), id, in)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, d)
}

// Delete deletes a delivery after giving back its stock
func (h *PrestationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.deliveries.Delete(r.Context(), id); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.NoContent(w)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// ChangeStatus moves a delivery through its lifecycle
func (h *PrestationHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}
	if err := httputil.ValidateCtx(r.Context(), &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	t, err := h.deliveries.ChangeStatus(r.Context(), id, status)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, t)
}

// ApplyStock consumes the stock of a PERFORMED delivery that has not
// consumed it yet
func (h *PrestationHandler) ApplyStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	report, err := h.deliveries.ApplyStockImpact(r.Context(), id)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// RevertStock gives back stock still held by a PLANNED delivery
func (h *PrestationHandler) RevertStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	report, err := h.deliveries.RevertStockImpact(r.Context(), id)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// RecalculateTotal recomputes and stores a delivery's total price
func (h *PrestationHandler) RecalculateTotal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.deliveries.RecalculateTotal(r.Context(), id)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, d)
}

type resolveQuery struct {
	ActID          string `json:"act_id" validate:"required,uuid"`
	ConventionID   string `json:"convention_id" validate:"omitempty,uuid"`
	PractitionerID string `json:"practitioner_id" validate:"omitempty,uuid"`
	Date           string `json:"date" validate:"omitempty,date"`
}

// ResolvePricing previews the tariff and honorarium a line would get
func (h *PrestationHandler) ResolvePricing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := resolveQuery{
		ActID:          q.Get("act_id"),
		ConventionID:   q.Get("convention_id"),
		PractitionerID: q.Get("practitioner_id"),
		Date:           q.Get("date"),
	}
	if err := httputil.ValidateCtx(r.Context(), &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	query := service.PricingQuery{
		ActID:          req.ActID,
		PractitionerID: req.PractitionerID,
		Date:           time.Now().UTC(),
	}
	if req.ConventionID != "" {
		query.ConventionID = &req.ConventionID
	}
	if req.Date != "" {
		query.Date, _ = time.Parse("2006-01-02", req.Date)
	}

	res, err := h.pricing.Resolve(r.Context(), query)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httputil.ErrorLocalized(w, r, errors.NotFound("prestation"))
		return "", false
	}
	return id, true
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
