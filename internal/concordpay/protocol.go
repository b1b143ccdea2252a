// Package concordpay implements the ConcordPay hosted payment page protocol:
// signed outbound payment requests, callback verification and the signed
// acknowledgment returned to the gateway.
package concordpay

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultGatewayURL is the hosted payment page endpoint.
const DefaultGatewayURL = "https://pay.concord.ua/api/"

// OrderSuffix separates the internal order id from the attempt timestamp in
// the composite order reference.
const OrderSuffix = "_woopay_"

// OperationPurchase is the only operation this integration issues.
const OperationPurchase = "Purchase"

// TransactionStatus is the gateway-defined state of a transaction.
type TransactionStatus string

const (
	StatusNew                 TransactionStatus = "New"
	StatusPending             TransactionStatus = "Pending"
	StatusInProcessing        TransactionStatus = "InProcessing"
	StatusWaitingAuthComplete TransactionStatus = "WaitingAuthComplete"
	StatusApproved            TransactionStatus = "Approved"
	StatusDeclined            TransactionStatus = "Declined"
	StatusExpired             TransactionStatus = "Expired"
	StatusRefundInProcessing  TransactionStatus = "RefundInProcessing"
	StatusRefunded            TransactionStatus = "Refunded"
)

// Known reports whether the status is one the gateway documents.
func (s TransactionStatus) Known() bool {
	switch s {
	case StatusNew, StatusPending, StatusInProcessing, StatusWaitingAuthComplete,
		StatusApproved, StatusDeclined, StatusExpired, StatusRefundInProcessing, StatusRefunded:
		return true
	default:
		return false
	}
}

// Order is the host-owned order as far as this integration reads it.
type Order struct {
	ID          string
	Status      string
	Total       decimal.Decimal
	Currency    string
	Billing     Billing
	Items       []Item
	CartSession string
}

// Billing carries the shopper contact fields forwarded to the gateway.
type Billing struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2"`
	City      string `json:"city"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Country   string `json:"country"`
	Postcode  string `json:"postcode"`
}

// Item is a single order line.
type Item struct {
	Name      string
	Qty       int
	LineTotal decimal.Decimal
}

// OrderRepository resolves orders and records completed payments in the host.
type OrderRepository interface {
	FindOrder(ctx context.Context, id string) (Order, error)
	// CompletePayment marks the order completed and appends note. Completing an
	// already completed order must be a no-op.
	CompletePayment(ctx context.Context, id string, note string) error
}

// CartClearer drops the shopper's pending cart.
type CartClearer interface {
	ClearCart(ctx context.Context, session string) error
}

// ComposeOrderReference builds "<id>_woopay_<unix>" so that a retried attempt
// for the same order never collides with an earlier one.
func ComposeOrderReference(orderID string, at time.Time) string {
	return orderID + OrderSuffix + strconv.FormatInt(at.Unix(), 10)
}

// SplitOrderReference returns the internal order id embedded in reference.
func SplitOrderReference(reference string) string {
	id, _, _ := strings.Cut(reference, OrderSuffix)
	return strings.TrimSpace(id)
}

var currencyAliases = strings.NewReplacer("ГРН", "UAH")

// NormalizeCurrency collapses the hryvnia labels onto the ISO code UAH.
func NormalizeCurrency(currency string) string {
	return currencyAliases.Replace(currency)
}

// IsAllowedCurrency reports whether currency is in allowed.
func IsAllowedCurrency(currency string, allowed []string) bool {
	for _, c := range allowed {
		if strings.EqualFold(strings.TrimSpace(c), currency) {
			return true
		}
	}
	return false
}

const (
	phoneLengthMin = 10
	phoneLengthMax = 11
)

var phoneStripper = strings.NewReplacer("+", "", " ", "", "(", "", ")", "")

// NormalizePhone converts local Ukrainian numbers to the international 380
// form. Numbers of any other length are returned stripped but otherwise as-is.
func NormalizePhone(phone string) string {
	phone = phoneStripper.Replace(phone)
	switch len(phone) {
	case phoneLengthMin:
		return "38" + phone
	case phoneLengthMax:
		return "3" + phone
	default:
		return phone
	}
}
