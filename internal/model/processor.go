package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// ExpandableID decodes a processor reference that is either an id string or an expanded object.
type ExpandableID string

func (e *ExpandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = ExpandableID(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = ExpandableID(strings.TrimSpace(obj.ID))
	return nil
}

func (e ExpandableID) String() string { return string(e) }

// CheckoutSession is the processor's checkout session, as delivered by
// checkout.session.completed and returned by the session lookup.
type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Mode              CheckoutMode      `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          ExpandableID      `json:"customer"`
	Subscription      ExpandableID      `json:"subscription"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

// AccountID recovers the correlation key written at checkout creation.
func (s *CheckoutSession) AccountID() string {
	if id := strings.TrimSpace(s.Metadata[MetadataAccountID]); id != "" {
		return id
	}
	return strings.TrimSpace(s.ClientReferenceID)
}

// SubscriptionObject is the customer.subscription.* data object.
type SubscriptionObject struct {
	ID                string            `json:"id"`
	Customer          ExpandableID      `json:"customer"`
	Status            string            `json:"status"`
	StartDate         int64             `json:"start_date"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []SubscriptionItemObject `json:"data"`
	} `json:"items"`
}

type SubscriptionItemObject struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Price            struct {
		ID      string       `json:"id"`
		Product ExpandableID `json:"product"`
	} `json:"price"`
}

func (o *SubscriptionObject) Snapshot() *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		ID:                strings.TrimSpace(o.ID),
		CustomerID:        o.Customer.String(),
		Status:            ParseStatus(o.Status),
		StartDate:         unixPtr(o.StartDate),
		CancelAtPeriodEnd: o.CancelAtPeriodEnd,
		Metadata:          o.Metadata,
	}
	periodEnd := o.CurrentPeriodEnd
	for _, item := range o.Items.Data {
		if snap.PriceID == "" && item.Price.ID != "" {
			snap.PriceID = item.Price.ID
			snap.ProductID = item.Price.Product.String()
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	snap.CurrentPeriodEnd = unixPtr(periodEnd)
	return snap
}

// InvoiceObject is the invoice.* data object. Newer API versions move the
// subscription reference under parent.subscription_details.
type InvoiceObject struct {
	ID           string            `json:"id"`
	Customer     ExpandableID      `json:"customer"`
	Subscription ExpandableID      `json:"subscription"`
	AmountPaid   int64             `json:"amount_paid"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription ExpandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (o *InvoiceObject) SubscriptionID() string {
	if id := o.Subscription.String(); id != "" {
		return id
	}
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil {
		return o.Parent.SubscriptionDetails.Subscription.String()
	}
	return ""
}

func (o *InvoiceObject) AccountID() string {
	if id := strings.TrimSpace(o.Metadata[MetadataAccountID]); id != "" {
		return id
	}
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil {
		return strings.TrimSpace(o.Parent.SubscriptionDetails.Metadata[MetadataAccountID])
	}
	return ""
}

// SubscriptionSnapshot is the processor-neutral view of a subscription used by the sync service.
type SubscriptionSnapshot struct {
	ID                string
	CustomerID        string
	Status            SubscriptionStatus
	PriceID           string
	ProductID         string
	StartDate         *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

func (s *SubscriptionSnapshot) AccountID() string {
	return strings.TrimSpace(s.Metadata[MetadataAccountID])
}

type Product struct {
	ID   string
	Name string
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
