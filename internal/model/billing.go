package model

import (
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

var AllStatuses = []SubscriptionStatus{
	StatusActive,
	StatusTrialing,
	StatusPastDue,
	StatusUnpaid,
	StatusCanceled,
	StatusIncomplete,
	StatusIncompleteExpired,
}

// ParseStatus maps processor status strings onto the internal enum.
// Unrecognized values (e.g. "paused") become incomplete, which never grants access.
func ParseStatus(s string) SubscriptionStatus {
	status := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if status == known {
			return status
		}
	}
	return StatusIncomplete
}

// GrantsAccess is true for the statuses that unlock premium features.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

type Tier string

const (
	TierFree     Tier = "free"
	TierMonthly  Tier = "monthly"
	TierAnnual   Tier = "annual"
	TierLifetime Tier = "lifetime"
)

// AccountAccessFlag is the denormalized access view stored on the account.
type AccountAccessFlag struct {
	AccountID       string             `json:"account_id"`
	HasActiveAccess bool               `json:"has_active_access"`
	Status          SubscriptionStatus `json:"status,omitempty"`
	Tier            Tier               `json:"tier"`
	UpdatedAt       *time.Time         `json:"updated_at,omitempty"`
}

// DeriveAccessFlag computes the flag from a stored record; a nil record means no subscription.
func DeriveAccessFlag(accountID string, rec *SubscriptionRecord) AccountAccessFlag {
	if rec == nil {
		return AccountAccessFlag{AccountID: accountID, Tier: TierFree}
	}
	updatedAt := rec.UpdatedAt
	return AccountAccessFlag{
		AccountID:       accountID,
		HasActiveAccess: rec.Status.GrantsAccess(),
		Status:          rec.Status,
		Tier:            rec.Tier,
		UpdatedAt:       &updatedAt,
	}
}

func AccessFlagFromAccount(a *Account) AccountAccessFlag {
	tier := a.SubscriptionTier
	if tier == "" {
		tier = TierFree
	}
	return AccountAccessFlag{
		AccountID:       a.ID,
		HasActiveAccess: a.HasActiveAccess,
		Status:          a.SubscriptionStatus,
		Tier:            tier,
		UpdatedAt:       a.AccessUpdatedAt,
	}
}
