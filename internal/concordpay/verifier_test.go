package concordpay_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
)

var errNotFound = fmt.Errorf("fake orders: %w", concordpay.ErrOrderNotFound)

type fakeOrders struct {
	orders    map[string]concordpay.Order
	completed map[string][]string
	err       error
	findErr   error
}

func newFakeOrders(orders ...concordpay.Order) *fakeOrders {
	f := &fakeOrders{orders: map[string]concordpay.Order{}, completed: map[string][]string{}}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) FindOrder(_ context.Context, id string) (concordpay.Order, error) {
	if f.findErr != nil {
		return concordpay.Order{}, f.findErr
	}
	o, ok := f.orders[id]
	if !ok {
		return concordpay.Order{}, errNotFound
	}
	return o, nil
}

func (f *fakeOrders) CompletePayment(_ context.Context, id string, note string) error {
	if f.err != nil {
		return f.err
	}
	f.completed[id] = append(f.completed[id], note)
	return nil
}

type fakeCarts struct {
	cleared []string
}

func (f *fakeCarts) ClearCart(_ context.Context, session string) error {
	f.cleared = append(f.cleared, session)
	return nil
}

const (
	testMerchant = "merchant"
	testSecret   = "s3cr3t"
)

func signedResponse(ref string, status concordpay.TransactionStatus) concordpay.PaymentResponse {
	resp := concordpay.PaymentResponse{
		MerchantAccount:   testMerchant,
		OrderReference:    ref,
		Amount:            concordpay.NewAmount(decimal.RequireFromString("100.00")),
		Currency:          "UAH",
		TransactionStatus: status,
		RecToken:          "tok-1",
	}
	resp.MerchantSignature = concordpay.NewSigner(testSecret).ResponseSignature(resp.SignatureFields())
	return resp
}

func TestVerifyApprovedCompletesOrder(t *testing.T) {
	orders := newFakeOrders(concordpay.Order{ID: "42", CartSession: "cart-1"})
	carts := &fakeCarts{}
	v := concordpay.NewVerifier(testMerchant, testSecret, orders, carts)

	update, err := v.Process(context.Background(), signedResponse("42_woopay_1700000000", concordpay.StatusApproved))
	require.NoError(t, err)
	require.True(t, update.Approved())
	require.Equal(t, "42", update.OrderID)
	require.Len(t, orders.completed["42"], 1)
	require.Contains(t, orders.completed["42"][0], "recToken: tok-1")
	require.Empty(t, carts.cleared)
}

func TestVerifyNotApprovedClearsCartWithoutMutation(t *testing.T) {
	statuses := []concordpay.TransactionStatus{
		concordpay.StatusDeclined, concordpay.StatusExpired, concordpay.StatusPending,
		concordpay.StatusRefunded, concordpay.StatusRefundInProcessing, "Unknown",
	}
	for _, status := range statuses {
		orders := newFakeOrders(concordpay.Order{ID: "42", CartSession: "cart-1"})
		carts := &fakeCarts{}
		v := concordpay.NewVerifier(testMerchant, testSecret, orders, carts)

		update, err := v.Process(context.Background(), signedResponse("42_woopay_1", status))
		require.NoError(t, err, status)
		require.False(t, update.Approved(), status)
		require.Equal(t, concordpay.ActionClearCart, update.Action)
		require.Empty(t, orders.completed, status)
		require.Equal(t, []string{"cart-1"}, carts.cleared, status)
	}
}

func TestVerifyTamperedSignatureNeverMutates(t *testing.T) {
	orders := newFakeOrders(concordpay.Order{ID: "42", CartSession: "cart-1"})
	carts := &fakeCarts{}
	v := concordpay.NewVerifier(testMerchant, testSecret, orders, carts)

	resp := signedResponse("42_woopay_1", concordpay.StatusApproved)
	resp.Amount = concordpay.NewAmount(decimal.RequireFromString("1.00"))

	_, err := v.Process(context.Background(), resp)
	require.ErrorIs(t, err, concordpay.ErrSignatureInvalid)
	require.Empty(t, orders.completed)
	require.Empty(t, carts.cleared)

	resp = signedResponse("42_woopay_1", concordpay.StatusApproved)
	resp.MerchantSignature = concordpay.NewSigner("other").ResponseSignature(resp.SignatureFields())
	_, err = v.Process(context.Background(), resp)
	require.ErrorIs(t, err, concordpay.ErrSignatureInvalid)
	require.Empty(t, orders.completed)
}

func TestVerifyGateOrder(t *testing.T) {
	orders := newFakeOrders(concordpay.Order{ID: "42"})
	v := concordpay.NewVerifier(testMerchant, testSecret, orders, nil)

	resp := signedResponse("99_woopay_1", concordpay.StatusApproved)
	resp.MerchantAccount = "someone-else"
	resp.MerchantSignature = "bogus"
	_, err := v.Verify(context.Background(), resp)
	require.ErrorIs(t, err, concordpay.ErrOrderLookup)
	require.ErrorIs(t, err, errNotFound)
	require.ErrorIs(t, err, concordpay.ErrOrderNotFound)

	resp.OrderReference = "42_woopay_1"
	_, err = v.Verify(context.Background(), resp)
	require.ErrorIs(t, err, concordpay.ErrMerchantMismatch)

	resp.MerchantAccount = testMerchant
	_, err = v.Verify(context.Background(), resp)
	require.ErrorIs(t, err, concordpay.ErrSignatureInvalid)

	_, err = v.Verify(context.Background(), concordpay.PaymentResponse{OrderReference: "_woopay_5"})
	require.ErrorIs(t, err, concordpay.ErrOrderLookup)
}

func TestVerifyLookupFailureIsNotOrderLookup(t *testing.T) {
	orders := newFakeOrders(concordpay.Order{ID: "42"})
	dbDown := errors.New("connection refused")
	orders.findErr = dbDown
	v := concordpay.NewVerifier(testMerchant, testSecret, orders, nil)

	_, err := v.Verify(context.Background(), signedResponse("42_woopay_1", concordpay.StatusApproved))
	require.ErrorIs(t, err, dbDown)
	require.NotErrorIs(t, err, concordpay.ErrOrderLookup)
	require.NotErrorIs(t, err, concordpay.ErrOrderNotFound)
	require.Empty(t, orders.completed)
}

func TestProcessPropagatesRepositoryFailure(t *testing.T) {
	orders := newFakeOrders(concordpay.Order{ID: "42"})
	orders.err = errors.New("db down")
	v := concordpay.NewVerifier(testMerchant, testSecret, orders, nil)

	update, err := v.Process(context.Background(), signedResponse("42_woopay_1", concordpay.StatusApproved))
	require.Error(t, err)
	require.NotErrorIs(t, err, concordpay.ErrSignatureInvalid)
	require.True(t, update.Approved())
}

func TestEndToEndOrder42(t *testing.T) {
	order := concordpay.Order{ID: "42", Total: decimal.RequireFromString("100.00"), Currency: "UAH"}
	builder := concordpay.NewBuilder(concordpay.Settings{MerchantID: testMerchant, SecretKey: testSecret, SiteHost: "shop"})
	builder.Now = func() time.Time { return time.Unix(1700000000, 0) }

	req, err := builder.BuildPaymentRequest(order)
	require.NoError(t, err)
	require.Equal(t, "100.00", req.Amount)
	require.Equal(t, hmacMD5(testSecret, "merchant;42_woopay_1700000000;100.00;UAH;"+req.Description), req.Signature)

	resp := concordpay.PaymentResponse{
		MerchantAccount:   testMerchant,
		OrderReference:    req.OrderID,
		Amount:            concordpay.NewAmount(decimal.RequireFromString(req.Amount)),
		Currency:          req.CurrencyISO,
		TransactionStatus: concordpay.StatusApproved,
	}
	resp.MerchantSignature = hmacMD5(testSecret, "merchant;42_woopay_1700000000;100;UAH")

	orders := newFakeOrders(order)
	update, err := concordpay.NewVerifier(testMerchant, testSecret, orders, nil).Verify(context.Background(), resp)
	require.NoError(t, err)
	require.Equal(t, concordpay.ActionComplete, update.Action)
	require.Equal(t, "42", update.OrderID)
	require.Empty(t, orders.completed, "Verify must not write")
}
