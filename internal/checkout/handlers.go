package checkout

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/concordpay-gateway/internal/common"
	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
	"github.com/noah-isme/concordpay-gateway/internal/obs"
	"github.com/noah-isme/concordpay-gateway/internal/order"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// OrderFinder loads orders for the pay page.
type OrderFinder interface {
	FindOrder(ctx context.Context, orderID string) (concordpay.Order, error)
}

// Handler renders the customer-facing checkout pages.
type Handler struct {
	Orders          OrderFinder
	Builder         *concordpay.Builder
	Carts           concordpay.CartClearer
	GatewayURL      string
	WidgetEnabled   bool
	WidgetScriptURL string
	Logger          zerolog.Logger
}

type redirectView struct {
	Language   string
	GatewayURL string
	Fields     []concordpay.FormField
}

type widgetView struct {
	Language        string
	ScriptURL       string
	AllowedCurrency bool
	Payload         concordpay.WidgetPayload
}

// Pay renders the auto-submitting redirect form, or the widget page, for an order.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil || h.Builder == nil {
		common.JSONError(w, http.StatusInternalServerError, "CHECKOUT_NOT_CONFIGURED", "checkout unavailable", nil)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id is required", nil)
		return
	}
	mode := "redirect"
	if h.WidgetEnabled {
		mode = "widget"
	}

	ord, err := h.Orders.FindOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			obs.IncPaymentRequest(mode, "not_found")
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		obs.IncPaymentRequest(mode, "error")
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("load order for checkout")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load order", nil)
		return
	}

	allowed := concordpay.IsAllowedCurrency(concordpay.NormalizeCurrency(ord.Currency), h.Builder.Settings.AllowedCurrencies)
	if !allowed {
		obs.IncPaymentRequest(mode, "currency_rejected")
		common.JSONError(w, http.StatusUnprocessableEntity, "CURRENCY_NOT_ALLOWED", "currency is not supported by the payment gateway", map[string]string{
			"currency": concordpay.NormalizeCurrency(ord.Currency),
		})
		return
	}

	req, err := h.Builder.BuildPaymentRequest(ord)
	if err != nil {
		obs.IncPaymentRequest(mode, "error")
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("build payment request")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to build payment request", nil)
		return
	}

	var buf bytes.Buffer
	if h.WidgetEnabled {
		err = templates.ExecuteTemplate(&buf, "widget.html", widgetView{
			Language:        req.Language,
			ScriptURL:       h.WidgetScriptURL,
			AllowedCurrency: allowed,
			Payload:         req.Widget(),
		})
	} else {
		err = templates.ExecuteTemplate(&buf, "redirect.html", redirectView{
			Language:   req.Language,
			GatewayURL: h.GatewayURL,
			Fields:     req.FormFields(),
		})
	}
	if err != nil {
		obs.IncPaymentRequest(mode, "error")
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("render checkout page")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to render payment page", nil)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	obs.IncPaymentRequest(mode, "rendered")

	if h.Carts != nil && ord.CartSession != "" {
		if err := h.Carts.ClearCart(r.Context(), ord.CartSession); err != nil {
			h.Logger.Warn().Err(err).Str("order_id", orderID).Msg("clear cart after checkout")
		}
	}
}

var messageTypes = map[string]struct{}{
	"success": {},
	"error":   {},
	"notice":  {},
}

// Message renders a status page. Both query values are escaped on output.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	msg := r.URL.Query().Get("msg")
	typ := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))
	if _, ok := messageTypes[typ]; !ok {
		typ = "notice"
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "message.html", map[string]string{"Message": msg, "Type": typ}); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to render message", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
