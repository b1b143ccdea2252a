package concordpay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings is the merchant configuration used to build payment requests.
type Settings struct {
	MerchantID         string
	SecretKey          string
	Language           string
	SiteURL            string
	SiteHost           string
	ApproveURL         string
	ApproveURLOverride string
	DeclineURL         string
	CancelURL          string
	CallbackURL        string
	AllowedCurrencies  []string
}

// PaymentRequest is the signed payload posted to the hosted payment page.
type PaymentRequest struct {
	Operation    string
	MerchantID   string
	OrderID      string
	Amount       string
	CurrencyISO  string
	Description  string
	ApproveURL   string
	CallbackURL  string
	DeclineURL   string
	CancelURL    string
	Language     string
	ProductName  []string
	ProductCount []string
	ProductPrice []string
	Signature    string
	Client       Client
}

// Client holds the shopper fields appended after the signed part of the request.
type Client struct {
	FirstName string
	LastName  string
	Address   string
	City      string
	Phone     string
	Email     string
	Country   string
	ZipCode   string
}

// FormField is one hidden input of the redirect form.
type FormField struct {
	Name  string
	Value string
}

// SignatureFields returns the signable view of the request.
func (r PaymentRequest) SignatureFields() Fields {
	f := Fields{}
	f.Set("merchant_id", r.MerchantID)
	f.Set("order_id", r.OrderID)
	f.Set("amount", r.Amount)
	f.Set("currency_iso", r.CurrencyISO)
	f.Set("description", r.Description)
	return f
}

// FormFields lists the hidden inputs in gateway order. Array fields are emitted
// as repeated "name[]" inputs.
func (r PaymentRequest) FormFields() []FormField {
	fields := []FormField{
		{Name: "operation", Value: r.Operation},
		{Name: "merchant_id", Value: r.MerchantID},
		{Name: "order_id", Value: r.OrderID},
		{Name: "amount", Value: r.Amount},
		{Name: "currency_iso", Value: r.CurrencyISO},
		{Name: "description", Value: r.Description},
		{Name: "approve_url", Value: r.ApproveURL},
		{Name: "callback_url", Value: r.CallbackURL},
		{Name: "decline_url", Value: r.DeclineURL},
		{Name: "cancel_url", Value: r.CancelURL},
		{Name: "language", Value: r.Language},
	}
	fields = appendArray(fields, "productName", r.ProductName)
	fields = appendArray(fields, "productCount", r.ProductCount)
	fields = appendArray(fields, "productPrice", r.ProductPrice)
	fields = append(fields,
		FormField{Name: "signature", Value: r.Signature},
		FormField{Name: "clientFirstName", Value: r.Client.FirstName},
		FormField{Name: "clientLastName", Value: r.Client.LastName},
		FormField{Name: "clientAddress", Value: r.Client.Address},
		FormField{Name: "clientCity", Value: r.Client.City},
		FormField{Name: "clientPhone", Value: r.Client.Phone},
		FormField{Name: "clientEmail", Value: r.Client.Email},
		FormField{Name: "clientCountry", Value: r.Client.Country},
		FormField{Name: "clientZipCode", Value: r.Client.ZipCode},
	)
	return fields
}

func appendArray(fields []FormField, name string, values []string) []FormField {
	for _, v := range values {
		fields = append(fields, FormField{Name: name + "[]", Value: v})
	}
	return fields
}

// WidgetPayload is the object handed to the in-page widget script.
type WidgetPayload struct {
	Operation   string   `json:"operation"`
	MerchantID  string   `json:"merchant_id"`
	Amount      string   `json:"amount"`
	Signature   string   `json:"signature"`
	OrderID     string   `json:"order_id"`
	CurrencyISO string   `json:"currency_iso"`
	Description string   `json:"description"`
	AddParams   []string `json:"add_params"`
	ApproveURL  string   `json:"approve_url"`
	DeclineURL  string   `json:"decline_url"`
	CancelURL   string   `json:"cancel_url"`
	CallbackURL string   `json:"callback_url"`
}

// Widget converts the request to the widget payload.
func (r PaymentRequest) Widget() WidgetPayload {
	return WidgetPayload{
		Operation:   r.Operation,
		MerchantID:  r.MerchantID,
		Amount:      r.Amount,
		Signature:   r.Signature,
		OrderID:     r.OrderID,
		CurrencyISO: r.CurrencyISO,
		Description: r.Description,
		AddParams:   []string{},
		ApproveURL:  r.ApproveURL,
		DeclineURL:  r.DeclineURL,
		CancelURL:   r.CancelURL,
		CallbackURL: r.CallbackURL,
	}
}

// Builder turns host orders into signed payment requests.
type Builder struct {
	Settings Settings
	Signer   Signer
	Now      func() time.Time
}

// NewBuilder returns a builder signing with settings.SecretKey.
func NewBuilder(settings Settings) *Builder {
	return &Builder{Settings: settings, Signer: NewSigner(settings.SecretKey), Now: time.Now}
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// BuildPaymentRequest produces the signed request for order. It has no side effects.
func (b *Builder) BuildPaymentRequest(order Order) (PaymentRequest, error) {
	if b == nil {
		return PaymentRequest{}, errors.New("concordpay: builder not configured")
	}
	if strings.TrimSpace(order.ID) == "" {
		return PaymentRequest{}, errors.New("concordpay: order id is required")
	}
	phone := NormalizePhone(order.Billing.Phone)
	req := PaymentRequest{
		Operation:   OperationPurchase,
		MerchantID:  b.Settings.MerchantID,
		OrderID:     ComposeOrderReference(order.ID, b.now()),
		Amount:      order.Total.StringFixed(2),
		CurrencyISO: NormalizeCurrency(order.Currency),
		ApproveURL:  b.approveURL(),
		CallbackURL: b.Settings.CallbackURL,
		DeclineURL:  b.Settings.DeclineURL,
		CancelURL:   b.Settings.CancelURL,
		Language:    b.Settings.Language,
		Client: Client{
			FirstName: order.Billing.FirstName,
			LastName:  order.Billing.LastName,
			Address:   order.Billing.Address1 + " " + order.Billing.Address2,
			City:      order.Billing.City,
			Phone:     phone,
			Email:     order.Billing.Email,
			Country:   clientCountry(order.Billing.Country),
			ZipCode:   order.Billing.Postcode,
		},
	}
	for _, item := range order.Items {
		req.ProductName = append(req.ProductName, item.Name)
		req.ProductCount = append(req.ProductCount, strconv.Itoa(item.Qty))
		req.ProductPrice = append(req.ProductPrice, item.LineTotal.StringFixed(2))
	}
	req.Description = fmt.Sprintf("Оплата картой на сайте %s, %s %s, %s",
		b.Settings.SiteHost, order.Billing.FirstName, order.Billing.LastName, phone)
	req.Signature = b.Signer.RequestSignature(req.SignatureFields())
	return req, nil
}

func (b *Builder) approveURL() string {
	if override := strings.TrimSpace(b.Settings.ApproveURLOverride); override != "" {
		return override
	}
	if u := strings.TrimSpace(b.Settings.ApproveURL); u != "" {
		return u
	}
	return strings.TrimRight(b.Settings.SiteURL, "/") + "/"
}

func clientCountry(country string) string {
	if len(country) != 3 {
		return "UKR"
	}
	return country
}
