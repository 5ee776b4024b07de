package reconcile

const (
	EventCheckoutCompleted    = "CheckoutCompleted"
	EventOrderReconciled      = "OrderReconciled"
	EventReconciliationFailed = "ReconciliationFailed"
)

const (
	TopicCheckoutCompleted    = "checkout.session.completed"
	TopicOrderReconciled      = "order.reconciled"
	TopicReconciliationFailed = "order.reconciliation.failed"
)

// Partition key = session id, so every event about one checkout stays ordered.
func PartitionKey(sessionID string) []byte { return []byte(sessionID) }

type CheckoutCompletedPayload struct {
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

type ReconciledItem struct {
	Title    string `json:"title"`
	Quantity int64  `json:"quantity"`
	Price    string `json:"price"`
}

type OrderReconciledPayload struct {
	SessionID string           `json:"session_id"`
	OrderID   string           `json:"order_id"`
	OrderName string           `json:"order_name,omitempty"`
	Email     string           `json:"email"`
	Currency  string           `json:"currency"`
	LineItems []ReconciledItem `json:"line_items"`
	Total     string           `json:"total"`
}

type ReconciliationFailedPayload struct {
	SessionID string `json:"session_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}
