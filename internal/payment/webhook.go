package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/concordpay-gateway/internal/common"
	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
	"github.com/noah-isme/concordpay-gateway/internal/events"
	"github.com/noah-isme/concordpay-gateway/internal/lock"
	"github.com/noah-isme/concordpay-gateway/internal/obs"
)

// Locker serializes callback processing for one order.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// EventEmitter publishes payment events.
type EventEmitter interface {
	Emit(ctx context.Context, topic, orderID string, payload any) (events.Event, error)
}

// Webhook handles ConcordPay callbacks: verification, replay detection,
// order settlement and the signed acknowledgment.
type Webhook struct {
	Verifier  *concordpay.Verifier
	Validate  *validator.Validate
	Replay    ReplayStore
	ReplayTTL time.Duration
	Locker    Locker
	LockTTL   time.Duration
	Events    EventEmitter
	Logger    zerolog.Logger
	Now       func() time.Time
}

// pendingTTL bounds how long an unfinished claim blocks retries, so a crash
// mid-apply does not hold the callback for the whole ReplayTTL.
func (h Webhook) pendingTTL() time.Duration {
	if h.LockTTL > 0 && h.LockTTL < h.ReplayTTL {
		return h.LockTTL
	}
	return h.ReplayTTL
}

func (h Webhook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Handle processes one gateway notification.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	result := h.handle(w, r)
	obs.IncPaymentCallback(result)
	obs.ObservePaymentCallback(result, float64(time.Since(started).Milliseconds()))
}

func (h Webhook) handle(w http.ResponseWriter, r *http.Request) string {
	if h.Verifier == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return "error"
	}
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return "malformed"
	}
	var resp concordpay.PaymentResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&resp); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload", nil)
		return "malformed"
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(resp); err != nil {
			common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload", common.ValidationDetails(err))
			return "malformed"
		}
	}

	log := h.Logger.With().Str("order_reference", resp.OrderReference).Str("status", string(resp.TransactionStatus)).Logger()

	update, err := h.Verifier.Verify(ctx, resp)
	if err != nil {
		return h.reject(ctx, w, log, err)
	}

	replayKey := common.Sha256Hex(string(body))
	replay := h.Replay != nil && h.ReplayTTL > 0
	if replay {
		state, err := h.Replay.Claim(ctx, replayKey, h.pendingTTL())
		if err != nil {
			log.Error().Err(err).Msg("replay store unavailable")
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "unable to process callback", nil)
			return "error"
		}
		switch state {
		case ClaimDone:
			log.Info().Msg("duplicate callback acknowledged")
			h.ack(w, resp.OrderReference)
			return "duplicate"
		case ClaimInProgress:
			// no ack: the gateway retries and gets the final answer
			log.Info().Msg("duplicate callback while first copy in progress")
			common.JSONError(w, http.StatusConflict, "CALLBACK_IN_PROGRESS", "callback is being processed", nil)
			return "in_progress"
		}
	}

	apply := func(ctx context.Context) error { return h.Verifier.Apply(ctx, update) }
	if h.Locker != nil {
		err = h.Locker.WithLock(ctx, lock.OrderKey(update.OrderID), h.LockTTL, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		if replay {
			if ferr := h.Replay.Forget(ctx, replayKey); ferr != nil {
				log.Warn().Err(ferr).Msg("release replay claim")
			}
		}
		log.Error().Err(err).Str("order_id", update.OrderID).Msg("apply callback")
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_UPDATE_ERROR", "unable to process callback", nil)
		return "error"
	}
	if replay {
		if cerr := h.Replay.Complete(ctx, replayKey, h.ReplayTTL); cerr != nil {
			// a pending claim expires after pendingTTL and the retry re-applies idempotently
			log.Warn().Err(cerr).Msg("mark replay claim done")
		}
	}

	h.emit(ctx, log, update, resp)
	log.Info().Str("order_id", update.OrderID).Str("action", string(update.Action)).Msg("callback processed")
	h.ack(w, resp.OrderReference)
	if update.Approved() {
		return "approved"
	}
	return "not_approved"
}

func (h Webhook) reject(ctx context.Context, w http.ResponseWriter, log zerolog.Logger, err error) string {
	switch {
	case errors.Is(err, concordpay.ErrOrderLookup):
		obs.RecordCallbackRejection(ctx, "order_lookup")
		log.Warn().Msg("callback rejected: unknown order")
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return "rejected_order"
	case errors.Is(err, concordpay.ErrMerchantMismatch):
		obs.RecordCallbackRejection(ctx, "merchant_mismatch")
		log.Warn().Msg("callback rejected: merchant mismatch")
		common.JSONError(w, http.StatusForbidden, "MERCHANT_MISMATCH", "callback rejected", nil)
		return "rejected_merchant"
	case errors.Is(err, concordpay.ErrSignatureInvalid):
		obs.RecordCallbackRejection(ctx, "signature_invalid")
		log.Warn().Msg("callback rejected: signature mismatch")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return "rejected_signature"
	default:
		log.Error().Err(err).Msg("verify callback")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process callback", nil)
		return "error"
	}
}

func (h Webhook) emit(ctx context.Context, log zerolog.Logger, update concordpay.OrderUpdate, resp concordpay.PaymentResponse) {
	if h.Events == nil {
		return
	}
	topic, ok := events.TopicForStatus(update.Status)
	if !ok {
		log.Warn().Msg("no event topic for status")
		return
	}
	payload := events.PaymentPayload{
		OrderID:        update.OrderID,
		OrderReference: resp.OrderReference,
		Status:         string(resp.TransactionStatus),
		Amount:         resp.Amount.String(),
		Currency:       resp.Currency,
		Email:          update.Order.Billing.Email,
	}
	if _, err := h.Events.Emit(ctx, topic, update.OrderID, payload); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("emit payment event")
	}
}

func (h Webhook) ack(w http.ResponseWriter, orderReference string) {
	common.JSON(w, http.StatusOK, h.Verifier.Signer.Ack(orderReference, h.now()))
}
