package entity

const (
	DeliveryStatusSent         int16 = 10
	DeliveryStatusRetried      int16 = 40
	DeliveryStatusDeadLettered int16 = 50
)

// DeliveryRecord describes the disposition of one stream entry.
type DeliveryRecord struct {
	JobID      string
	EntryID    string
	EmailType  string
	Recipient  string
	Status     int16
	RetryCount int
	MessageID  string
	Error      string
}
