package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClearedChannel is the Redis channel on which cleared sessions are published
// for the host shop.
const ClearedChannel = "concordpay:cart:cleared"

const (
	defaultPrefix = "concordpay:cart:"
	defaultTTL    = 7 * 24 * time.Hour
)

// ErrSessionRequired is returned for blank session identifiers.
var ErrSessionRequired = errors.New("cart: session is required")

// Status is what the gateway knows about a shopper session.
type Status struct {
	Session string `json:"session"`
	OrderID string `json:"orderId,omitempty"`
	Pending bool   `json:"pending"`
	Cleared bool   `json:"cleared"`
}

// Store tracks pending carts per shopper session in Redis.
type Store struct {
	Client redis.Cmdable
	Prefix string
	TTL    time.Duration
}

func (s Store) key(kind, session string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return prefix + kind + ":" + session
}

func (s Store) ttl() time.Duration {
	if s.TTL <= 0 {
		return defaultTTL
	}
	return s.TTL
}

// MarkPending records that session has a cart waiting on orderID.
func (s Store) MarkPending(ctx context.Context, session, orderID string) error {
	session = strings.TrimSpace(session)
	if session == "" {
		return ErrSessionRequired
	}
	if s.Client == nil {
		return nil
	}
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("pending", session), orderID, s.ttl())
		pipe.Del(ctx, s.key("cleared", session))
		return nil
	})
	return err
}

// ClearCart implements concordpay.CartClearer. The pending marker is dropped,
// a cleared marker is kept for the host to poll, and the session is published
// on ClearedChannel.
func (s Store) ClearCart(ctx context.Context, session string) error {
	session = strings.TrimSpace(session)
	if session == "" {
		return ErrSessionRequired
	}
	if s.Client == nil {
		return nil
	}
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key("pending", session))
		pipe.Set(ctx, s.key("cleared", session), time.Now().UTC().Format(time.RFC3339), s.ttl())
		pipe.Publish(ctx, ClearedChannel, session)
		return nil
	})
	return err
}

// Status reports the pending and cleared markers of session.
func (s Store) Status(ctx context.Context, session string) (Status, error) {
	session = strings.TrimSpace(session)
	if session == "" {
		return Status{}, ErrSessionRequired
	}
	st := Status{Session: session}
	if s.Client == nil {
		return st, nil
	}
	orderID, err := s.Client.Get(ctx, s.key("pending", session)).Result()
	switch {
	case err == nil:
		st.OrderID = orderID
		st.Pending = true
	case !errors.Is(err, redis.Nil):
		return Status{}, err
	}
	n, err := s.Client.Exists(ctx, s.key("cleared", session)).Result()
	if err != nil {
		return Status{}, err
	}
	st.Cleared = n > 0
	return st, nil
}
