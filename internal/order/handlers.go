package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/concordpay-gateway/internal/common"
	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
)

// Repository is the storage used by the host API.
type Repository interface {
	Create(ctx context.Context, o concordpay.Order) error
	Get(ctx context.Context, id string) (Record, error)
}

// CartTracker remembers which session a pending order belongs to.
type CartTracker interface {
	MarkPending(ctx context.Context, session, orderID string) error
}

// Handler serves the host API for order registration and lookup.
type Handler struct {
	Orders   Repository
	Carts    CartTracker
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type billingRequest struct {
	FirstName string `json:"firstName" validate:"max=128"`
	LastName  string `json:"lastName" validate:"max=128"`
	Address1  string `json:"address1" validate:"max=256"`
	Address2  string `json:"address2" validate:"max=256"`
	City      string `json:"city" validate:"max=128"`
	Phone     string `json:"phone" validate:"max=32"`
	Email     string `json:"email" validate:"omitempty,email"`
	Country   string `json:"country" validate:"omitempty,min=2,max=3"`
	Postcode  string `json:"postcode" validate:"max=16"`
}

type itemRequest struct {
	Name      string `json:"name" validate:"required,max=256"`
	Qty       int    `json:"qty" validate:"gt=0"`
	LineTotal string `json:"lineTotal" validate:"required,numeric"`
}

type createRequest struct {
	ID          string         `json:"id" validate:"required,max=64,printascii,excludes=_woopay_"`
	Total       string         `json:"total" validate:"required,numeric"`
	Currency    string         `json:"currency" validate:"required,max=8"`
	Billing     billingRequest `json:"billing"`
	Items       []itemRequest  `json:"items" validate:"dive"`
	CartSession string         `json:"cartSession" validate:"max=128"`
}

func (req createRequest) toOrder() (concordpay.Order, error) {
	total, err := decimal.NewFromString(req.Total)
	if err != nil || total.IsNegative() {
		return concordpay.Order{}, errors.New("total must be a non-negative decimal")
	}
	o := concordpay.Order{
		ID:          strings.TrimSpace(req.ID),
		Status:      StatusPending,
		Total:       total,
		Currency:    strings.TrimSpace(req.Currency),
		CartSession: strings.TrimSpace(req.CartSession),
		Billing: concordpay.Billing{
			FirstName: req.Billing.FirstName,
			LastName:  req.Billing.LastName,
			Address1:  req.Billing.Address1,
			Address2:  req.Billing.Address2,
			City:      req.Billing.City,
			Phone:     req.Billing.Phone,
			Email:     req.Billing.Email,
			Country:   req.Billing.Country,
			Postcode:  req.Billing.Postcode,
		},
	}
	for _, it := range req.Items {
		lineTotal, err := decimal.NewFromString(it.LineTotal)
		if err != nil {
			return concordpay.Order{}, errors.New("lineTotal must be a decimal")
		}
		o.Items = append(o.Items, concordpay.Item{Name: it.Name, Qty: it.Qty, LineTotal: lineTotal})
	}
	return o, nil
}

// Create registers an order from the host shop.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "invalid order", common.ValidationDetails(err))
			return
		}
	}
	o, err := req.toOrder()
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	if err := h.Orders.Create(r.Context(), o); err != nil {
		if errors.Is(err, ErrExists) {
			common.JSONError(w, http.StatusConflict, "CONFLICT", "order already exists", nil)
			return
		}
		h.Logger.Error().Err(err).Str("order_id", o.ID).Msg("create order")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create order", nil)
		return
	}
	if h.Carts != nil && o.CartSession != "" {
		if err := h.Carts.MarkPending(r.Context(), o.CartSession, o.ID); err != nil {
			h.Logger.Warn().Err(err).Str("order_id", o.ID).Msg("mark cart pending")
		}
	}
	common.JSON(w, http.StatusCreated, toResponse(Record{Order: o}))
}

// Get returns an order with its payment notes.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	rec, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		h.Logger.Error().Err(err).Str("order_id", id).Msg("load order")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, toResponse(rec))
}

func toResponse(rec Record) map[string]any {
	o := rec.Order
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"name":      it.Name,
			"qty":       it.Qty,
			"lineTotal": it.LineTotal.StringFixed(2),
		})
	}
	notes := rec.Notes
	if notes == nil {
		notes = []Note{}
	}
	resp := map[string]any{
		"id":          o.ID,
		"status":      o.Status,
		"total":       o.Total.StringFixed(2),
		"currency":    o.Currency,
		"cartSession": o.CartSession,
		"billing":     o.Billing,
		"items":       items,
		"notes":       notes,
	}
	if rec.PaidAt != nil {
		resp["paidAt"] = rec.PaidAt
	}
	if !rec.CreatedAt.IsZero() {
		resp["createdAt"] = rec.CreatedAt
	}
	return resp
}
