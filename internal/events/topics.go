package events

// Topic constants for domain events emitted by the checkout core.
const (
	TopicOrderCreated  = "order.created"
	TopicPaymentFailed = "payment.failed"
)

// DefaultTopics returns the topics the worker subscribes to.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicPaymentFailed,
	}
}
