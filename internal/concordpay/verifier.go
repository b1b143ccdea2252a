package concordpay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrOrderLookup indicates the order embedded in the callback could not be resolved.
	ErrOrderLookup = errors.New("concordpay: order lookup failed")
	// ErrOrderNotFound is returned by an OrderRepository when the order does not
	// exist. Any other FindOrder error is an infrastructure failure.
	ErrOrderNotFound = errors.New("concordpay: order not found")
	// ErrMerchantMismatch indicates the callback names a different merchant account.
	ErrMerchantMismatch = errors.New("concordpay: merchant mismatch")
	// ErrSignatureInvalid indicates the callback signature does not match; the
	// notification must be treated as forged.
	ErrSignatureInvalid = errors.New("concordpay: signature invalid")
)

// Action is what a verified callback asks the host to do with the order.
type Action string

const (
	// ActionComplete marks the order paid.
	ActionComplete Action = "complete"
	// ActionClearCart drops the pending cart and leaves the order untouched.
	ActionClearCart Action = "clear_cart"
)

// OrderUpdate is the outcome of a verified callback.
type OrderUpdate struct {
	OrderID string
	Order   Order
	Status  TransactionStatus
	Action  Action
	Note    string
}

// Approved reports whether the update completes the order.
func (u OrderUpdate) Approved() bool { return u.Action == ActionComplete }

// Verifier authenticates gateway callbacks and applies the resulting order transition.
type Verifier struct {
	MerchantID string
	Signer     Signer
	Orders     OrderRepository
	Carts      CartClearer
}

// NewVerifier builds a verifier for the configured merchant.
func NewVerifier(merchantID, secret string, orders OrderRepository, carts CartClearer) *Verifier {
	return &Verifier{
		MerchantID: merchantID,
		Signer:     NewSigner(secret),
		Orders:     orders,
		Carts:      carts,
	}
}

// Verify runs the gates in order (order lookup, merchant, signature) and
// returns the update the callback asks for. It never mutates state.
func (v *Verifier) Verify(ctx context.Context, resp PaymentResponse) (OrderUpdate, error) {
	if v == nil || v.Orders == nil {
		return OrderUpdate{}, errors.New("concordpay: verifier not configured")
	}
	orderID := SplitOrderReference(resp.OrderReference)
	if orderID == "" {
		return OrderUpdate{}, ErrOrderLookup
	}
	order, err := v.Orders.FindOrder(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return OrderUpdate{}, fmt.Errorf("%w: %w", ErrOrderLookup, err)
	}
	if err != nil {
		return OrderUpdate{}, fmt.Errorf("concordpay: find order: %w", err)
	}
	if v.MerchantID != resp.MerchantAccount {
		return OrderUpdate{}, ErrMerchantMismatch
	}
	expected := v.Signer.ResponseSignature(resp.SignatureFields())
	if !v.Signer.Equal(expected, resp.MerchantSignature) {
		return OrderUpdate{}, ErrSignatureInvalid
	}

	update := OrderUpdate{
		OrderID: orderID,
		Order:   order,
		Status:  resp.TransactionStatus,
		Action:  ActionClearCart,
	}
	if resp.TransactionStatus == StatusApproved {
		update.Action = ActionComplete
		update.Note = approvalNote(resp)
	}
	return update, nil
}

// Process verifies resp and applies the update. Nothing is written unless
// verification succeeds.
func (v *Verifier) Process(ctx context.Context, resp PaymentResponse) (OrderUpdate, error) {
	ctx, span := otel.Tracer("concordpay.Verifier").Start(ctx, "Verifier.Process")
	defer span.End()

	update, err := v.Verify(ctx, resp)
	if err != nil {
		span.SetStatus(codes.Error, "verification failed")
		return OrderUpdate{}, err
	}
	span.SetAttributes(
		attribute.String("order.id", update.OrderID),
		attribute.String("concordpay.status", string(update.Status)),
		attribute.String("concordpay.action", string(update.Action)),
	)
	if err := v.Apply(ctx, update); err != nil {
		span.RecordError(err)
		return update, err
	}
	return update, nil
}

// Apply performs the order side of a verified update.
func (v *Verifier) Apply(ctx context.Context, update OrderUpdate) error {
	switch update.Action {
	case ActionComplete:
		if err := v.Orders.CompletePayment(ctx, update.OrderID, update.Note); err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}
	case ActionClearCart:
		session := strings.TrimSpace(update.Order.CartSession)
		if v.Carts == nil || session == "" {
			return nil
		}
		if err := v.Carts.ClearCart(ctx, session); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
	}
	return nil
}

func approvalNote(resp PaymentResponse) string {
	return fmt.Sprintf("ConcordPay: orderReference %s, status %s\n\nrecToken: %s",
		resp.OrderReference, resp.TransactionStatus, resp.RecToken)
}
