package concordpay

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureSeparator joins signed field values.
const SignatureSeparator = ";"

var (
	requestSignatureKeys  = []string{"merchant_id", "order_id", "amount", "currency_iso", "description"}
	responseSignatureKeys = []string{"merchantAccount", "orderReference", "amount", "currency"}
	ackSignatureKeys      = []string{"orderReference", "status", "time"}
)

// Fields holds the values fed to a signature. A key with several values is an
// array field and is flattened element-wise in insertion order.
type Fields map[string][]string

// Set stores a scalar value for key.
func (f Fields) Set(key, value string) {
	f[key] = []string{value}
}

// Add appends an element to the array field key.
func (f Fields) Add(key, value string) {
	f[key] = append(f[key], value)
}

// Signer computes HMAC-MD5 signatures keyed by the merchant secret.
type Signer struct {
	secret []byte
}

// NewSigner returns a signer for the shared merchant secret.
func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// Sign joins the values of keys (in order, skipping absent keys) with ';' and
// returns the hex encoded HMAC-MD5 digest.
func (s Signer) Sign(fields Fields, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		values, ok := fields[key]
		if !ok {
			continue
		}
		parts = append(parts, values...)
	}
	mac := hmac.New(md5.New, s.secret)
	mac.Write([]byte(strings.Join(parts, SignatureSeparator)))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequestSignature signs an outbound payment request.
func (s Signer) RequestSignature(fields Fields) string {
	return s.Sign(fields, requestSignatureKeys)
}

// ResponseSignature recomputes the signature of an inbound callback.
func (s Signer) ResponseSignature(fields Fields) string {
	return s.Sign(fields, responseSignatureKeys)
}

// Equal reports whether the provided signature matches expected in constant time.
func (s Signer) Equal(expected, provided string) bool {
	provided = strings.TrimSpace(provided)
	if expected == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Ack is the signed acknowledgment returned to the gateway for a callback.
type Ack struct {
	OrderReference string `json:"orderReference"`
	Status         string `json:"status"`
	Time           int64  `json:"time"`
	Signature      string `json:"signature"`
}

// AckStatusAccept is the only acknowledgment status the gateway expects.
const AckStatusAccept = "accept"

// Ack builds the acknowledgment for orderReference at now.
func (s Signer) Ack(orderReference string, now time.Time) Ack {
	ack := Ack{
		OrderReference: orderReference,
		Status:         AckStatusAccept,
		Time:           now.Unix(),
	}
	fields := Fields{}
	fields.Set("orderReference", ack.OrderReference)
	fields.Set("status", ack.Status)
	fields.Set("time", strconv.FormatInt(ack.Time, 10))
	ack.Signature = s.Sign(fields, ackSignatureKeys)
	return ack
}
