package concordpay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentResponse is the JSON notification posted by the gateway.
type PaymentResponse struct {
	MerchantAccount   string            `json:"merchantAccount" validate:"required"`
	OrderReference    string            `json:"orderReference" validate:"required"`
	Amount            Amount            `json:"amount"`
	Currency          string            `json:"currency"`
	TransactionStatus TransactionStatus `json:"transactionStatus" validate:"required"`
	MerchantSignature string            `json:"merchantSignature" validate:"required"`
	RecToken          string            `json:"recToken,omitempty"`

	currencySet bool
}

// UnmarshalJSON records whether currency was sent so a missing or null
// currency stays out of the signature.
func (r *PaymentResponse) UnmarshalJSON(data []byte) error {
	type plain PaymentResponse
	var aux struct {
		plain
		Currency *string `json:"currency"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = PaymentResponse(aux.plain)
	if aux.Currency != nil {
		r.Currency = *aux.Currency
		r.currencySet = true
	}
	return nil
}

// SignatureFields returns the signable view of the callback. Keys the gateway
// left out or sent as null are skipped; empty strings are kept.
func (r PaymentResponse) SignatureFields() Fields {
	f := Fields{}
	f.Set("merchantAccount", r.MerchantAccount)
	f.Set("orderReference", r.OrderReference)
	if r.Amount.Present() {
		f.Set("amount", r.Amount.String())
	}
	if r.currencySet || r.Currency != "" {
		f.Set("currency", r.Currency)
	}
	return f
}

// Amount is a callback amount that remembers the text it is signed with.
// JSON strings are signed verbatim; JSON numbers are signed in their shortest
// decimal form, so 100.00 signs as "100" and 100.50 as "100.5".
type Amount struct {
	text  string
	value decimal.Decimal
	set   bool
}

// NewAmount returns an amount signed in its shortest decimal form.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{text: d.String(), value: d, set: true}
}

// Present reports whether the amount was sent as anything other than null.
func (a Amount) Present() bool { return a.set || a.text != "" }

// String returns the signed text.
func (a Amount) String() string { return a.text }

// Decimal returns the numeric value.
func (a Amount) Decimal() decimal.Decimal { return a.value }

// UnmarshalJSON accepts both numbers and numeric strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = Amount{value: decimal.Zero, set: true}
			return nil
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		*a = Amount{text: s, value: v, set: true}
		return nil
	}
	v, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = NewAmount(v)
	return nil
}

// MarshalJSON emits the amount as a JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.value.String()), nil
}
