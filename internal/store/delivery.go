package store

// SignalDelivery is one pending downstream signal: a serialized event bound
// to a subscription endpoint, retried until delivered or dead-lettered.
type SignalDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}
