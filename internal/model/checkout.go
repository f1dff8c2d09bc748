package model

type CheckoutMode string

const (
	CheckoutModeOneTime      CheckoutMode = "payment"
	CheckoutModeSubscription CheckoutMode = "subscription"
)

// CheckoutIntent is what the application asks the processor to open. It is never persisted.
type CheckoutIntent struct {
	Mode        CheckoutMode
	PriceRef    string
	Amount      int64
	Currency    string
	AccountID   string
	SuccessURL  string
	CancelURL   string
	ProductName string
}

type SessionRef struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// CheckoutOutcome is the verified result of a completed checkout.
type CheckoutOutcome struct {
	AccountID      string       `json:"account_id"`
	Mode           CheckoutMode `json:"mode"`
	SubscriptionID string       `json:"subscription_id,omitempty"`
	AmountPaid     int64        `json:"amount_paid,omitempty"`
	Currency       string       `json:"currency,omitempty"`
}

const (
	// MetadataAccountID is the correlation key written into every checkout.
	MetadataAccountID = "account_id"
	PaymentStatusPaid = "paid"
)
