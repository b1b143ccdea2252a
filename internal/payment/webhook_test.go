package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/concordpay-gateway/internal/common"
	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
	"github.com/noah-isme/concordpay-gateway/internal/events"
	"github.com/noah-isme/concordpay-gateway/internal/lock"
)

const (
	merchant = "merchant"
	secret   = "s3cr3t"
)

type memoryOrders struct {
	mu        sync.Mutex
	orders    map[string]concordpay.Order
	completed map[string]int
	failNext  error
	findErr   error
}

func (m *memoryOrders) FindOrder(_ context.Context, id string) (concordpay.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return concordpay.Order{}, m.findErr
	}
	o, ok := m.orders[id]
	if !ok {
		return concordpay.Order{}, concordpay.ErrOrderNotFound
	}
	return o, nil
}

func (m *memoryOrders) CompletePayment(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.completed[id]++
	return nil
}

type memoryCarts struct {
	mu      sync.Mutex
	cleared []string
}

func (m *memoryCarts) ClearCart(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, session)
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	topics []string
	last   events.PaymentPayload
}

func (r *recordingEmitter) Emit(_ context.Context, topic, orderID string, payload any) (events.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.last = payload.(events.PaymentPayload)
	return events.Event{Topic: topic, OrderID: orderID}, nil
}

type fixture struct {
	orders  *memoryOrders
	carts   *memoryCarts
	emitter *recordingEmitter
	handler Webhook
	redis   *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orders := &memoryOrders{
		orders: map[string]concordpay.Order{
			"42": {ID: "42", CartSession: "sess-1", Billing: concordpay.Billing{Email: "ivan@example.com"}},
		},
		completed: map[string]int{},
	}
	carts := &memoryCarts{}
	emitter := &recordingEmitter{}
	return &fixture{
		orders:  orders,
		carts:   carts,
		emitter: emitter,
		redis:   mr,
		handler: Webhook{
			Verifier:  concordpay.NewVerifier(merchant, secret, orders, carts),
			Validate:  common.NewValidator(),
			Replay:    RedisReplay{Client: client},
			ReplayTTL: time.Hour,
			Locker:    lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
			LockTTL:   time.Second,
			Events:    emitter,
			Logger:    zerolog.Nop(),
			Now:       func() time.Time { return time.Unix(1700000100, 0) },
		},
	}
}

func callbackBody(t *testing.T, status concordpay.TransactionStatus, signWith string) string {
	t.Helper()
	resp := concordpay.PaymentResponse{
		MerchantAccount: merchant,
		OrderReference:  "42_woopay_1700000000",
		Amount:          concordpay.NewAmount(decimal.RequireFromString("100.00")),
		Currency:        "UAH",
	}
	sig := concordpay.NewSigner(signWith).ResponseSignature(resp.SignatureFields())
	return fmt.Sprintf(`{"merchantAccount":%q,"orderReference":%q,"amount":100.00,"currency":"UAH","transactionStatus":%q,"merchantSignature":%q,"recToken":"tok"}`,
		resp.MerchantAccount, resp.OrderReference, status, sig)
}

func (f *fixture) post(body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/concordpay", strings.NewReader(body))
	f.handler.Handle(rr, req)
	return rr
}

func TestWebhookApprovedCompletesAndAcks(t *testing.T) {
	f := newFixture(t)
	rr := f.post(callbackBody(t, concordpay.StatusApproved, secret))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var ack concordpay.Ack
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	require.Equal(t, "42_woopay_1700000000", ack.OrderReference)
	require.Equal(t, "accept", ack.Status)
	require.Equal(t, int64(1700000100), ack.Time)
	require.Equal(t, concordpay.NewSigner(secret).Ack(ack.OrderReference, time.Unix(1700000100, 0)).Signature, ack.Signature)

	require.Equal(t, 1, f.orders.completed["42"])
	require.Equal(t, []string{events.TopicOrderPaid}, f.emitter.topics)
	require.Equal(t, "100", f.emitter.last.Amount)
	require.Equal(t, "ivan@example.com", f.emitter.last.Email)
}

func TestWebhookDuplicateIsAcknowledgedOnce(t *testing.T) {
	f := newFixture(t)
	body := callbackBody(t, concordpay.StatusApproved, secret)

	require.Equal(t, http.StatusOK, f.post(body).Code)
	rr := f.post(body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"accept"`)
	require.Equal(t, 1, f.orders.completed["42"])
	require.Len(t, f.emitter.topics, 1)

	state, err := f.redis.Get(replayKeyPrefix + common.Sha256Hex(body))
	require.NoError(t, err)
	require.Equal(t, replayDone, state)
}

func TestWebhookDuplicateWhileFirstInProgress(t *testing.T) {
	f := newFixture(t)
	body := callbackBody(t, concordpay.StatusApproved, secret)
	key := replayKeyPrefix + common.Sha256Hex(body)
	require.NoError(t, f.redis.Set(key, replayPending))

	rr := f.post(body)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "CALLBACK_IN_PROGRESS")
	require.NotContains(t, rr.Body.String(), "accept")
	require.Empty(t, f.orders.completed)
	require.Empty(t, f.emitter.topics)

	// first copy failed and released its claim: the retry is processed
	f.redis.Del(key)
	rr = f.post(body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"accept"`)
	require.Equal(t, 1, f.orders.completed["42"])
}

func TestWebhookOrderStoreOutageIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.orders.findErr = errors.New("connection refused")
	body := callbackBody(t, concordpay.StatusApproved, secret)

	rr := f.post(body)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "INTERNAL")
	require.NotContains(t, rr.Body.String(), "accept")
	require.NotContains(t, rr.Body.String(), "connection refused")
	require.Empty(t, f.orders.completed)

	f.orders.findErr = nil
	require.Equal(t, http.StatusOK, f.post(body).Code)
	require.Equal(t, 1, f.orders.completed["42"])
}

func TestWebhookDeclinedClearsCartOnly(t *testing.T) {
	f := newFixture(t)
	rr := f.post(callbackBody(t, concordpay.StatusDeclined, secret))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, f.orders.completed)
	require.Equal(t, []string{"sess-1"}, f.carts.cleared)
	require.Equal(t, []string{events.TopicPaymentDeclined}, f.emitter.topics)
}

func TestWebhookRejections(t *testing.T) {
	f := newFixture(t)

	rr := f.post(callbackBody(t, concordpay.StatusApproved, "wrong"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.NotContains(t, rr.Body.String(), "accept")

	forged := strings.Replace(callbackBody(t, concordpay.StatusApproved, secret), `"merchantAccount":"merchant"`, `"merchantAccount":"other"`, 1)
	require.Equal(t, http.StatusForbidden, f.post(forged).Code)

	unknown := strings.Replace(callbackBody(t, concordpay.StatusApproved, secret), "42_woopay_", "99_woopay_", 1)
	require.Equal(t, http.StatusNotFound, f.post(unknown).Code)

	require.Equal(t, http.StatusBadRequest, f.post("{").Code)
	require.Equal(t, http.StatusBadRequest, f.post(`{"merchantAccount":"merchant"}`).Code)

	require.Empty(t, f.orders.completed)
	require.Empty(t, f.carts.cleared)
	require.Empty(t, f.emitter.topics)
}

func TestWebhookFailureAllowsRetry(t *testing.T) {
	f := newFixture(t)
	f.orders.failNext = errors.New("db down")
	body := callbackBody(t, concordpay.StatusApproved, secret)

	rr := f.post(body)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "db down")
	require.Empty(t, f.emitter.topics)

	require.Equal(t, http.StatusOK, f.post(body).Code)
	require.Equal(t, 1, f.orders.completed["42"])
}

func TestWebhookReplayStoreDown(t *testing.T) {
	f := newFixture(t)
	f.redis.Close()
	rr := f.post(callbackBody(t, concordpay.StatusApproved, secret))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Empty(t, f.orders.completed)
}
