package events

import "github.com/noah-isme/concordpay-gateway/internal/concordpay"

// Topic constants for payment events emitted after a verified callback.
const (
	TopicOrderPaid       = "order.paid"
	TopicPaymentDeclined = "payment.declined"
	TopicPaymentExpired  = "payment.expired"
	TopicPaymentRefunded = "payment.refunded"
	TopicPaymentPending  = "payment.pending"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderPaid,
		TopicPaymentDeclined,
		TopicPaymentExpired,
		TopicPaymentRefunded,
		TopicPaymentPending,
	}
}

// TopicForStatus maps a gateway transaction status to its event topic.
// Undocumented statuses have no topic.
func TopicForStatus(status concordpay.TransactionStatus) (string, bool) {
	switch status {
	case concordpay.StatusApproved:
		return TopicOrderPaid, true
	case concordpay.StatusDeclined:
		return TopicPaymentDeclined, true
	case concordpay.StatusExpired:
		return TopicPaymentExpired, true
	case concordpay.StatusRefunded:
		return TopicPaymentRefunded, true
	case concordpay.StatusNew, concordpay.StatusPending, concordpay.StatusInProcessing,
		concordpay.StatusWaitingAuthComplete, concordpay.StatusRefundInProcessing:
		return TopicPaymentPending, true
	default:
		return "", false
	}
}
