package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/noah-isme/concordpay-gateway/internal/events"
)

// EmailNotifier sends transactional emails for selected topics.
type EmailNotifier struct {
	Mail         EmailSender
	Enabled      bool
	TopicToggles map[string]bool
}

// Notify implements events.Notifier.
func (n EmailNotifier) Notify(_ context.Context, event events.Event) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; !ok || !enabled {
			return nil
		}
	}
	var payload events.PaymentPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	to := strings.TrimSpace(payload.Email)
	if to == "" {
		return nil
	}
	body, err := renderBody(event, payload)
	if err != nil {
		return fmt.Errorf("email notify: render: %w", err)
	}
	return n.Mail.Send(to, subjectFor(event.Topic, payload.OrderID), body)
}

func subjectFor(topic, orderID string) string {
	switch topic {
	case events.TopicOrderPaid:
		return fmt.Sprintf("Замовлення %s оплачено", orderID)
	case events.TopicPaymentDeclined:
		return fmt.Sprintf("Оплату замовлення %s відхилено", orderID)
	case events.TopicPaymentExpired:
		return fmt.Sprintf("Термін оплати замовлення %s минув", orderID)
	case events.TopicPaymentRefunded:
		return fmt.Sprintf("Кошти за замовлення %s повернено", orderID)
	default:
		return fmt.Sprintf("Замовлення %s: %s", orderID, topic)
	}
}

var bodyTemplate = template.Must(template.New("email").Parse(
	`<p>Замовлення <strong>{{.OrderID}}</strong></p>
<p>Статус: {{.Status}}<br>Сума: {{.Amount}} {{.Currency}}</p>
<p>{{.When}}</p>
`))

func renderBody(event events.Event, payload events.PaymentPayload) (string, error) {
	var sb strings.Builder
	err := bodyTemplate.Execute(&sb, map[string]string{
		"OrderID":  payload.OrderID,
		"Status":   payload.Status,
		"Amount":   payload.Amount,
		"Currency": payload.Currency,
		"When":     event.OccurredAt.Format(time.RFC3339),
	})
	return sb.String(), err
}
