package core

import "time"

// SubscriptionStatus represents the billing state of a tenant subscription
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionTrialing SubscriptionStatus = "TRIALING"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionUnpaid   SubscriptionStatus = "UNPAID"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

// String returns the string representation
func (s SubscriptionStatus) String() string {
	return string(s)
}

// Subscription is the billing projection of a tenant
type Subscription struct {
	Status             SubscriptionStatus `json:"status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
	ProviderCustomerID string             `json:"provider_customer_id,omitempty"`
}

// ActivityStats is the usage projection of a tenant
type ActivityStats struct {
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// Organization is the read-only tenant record this core evaluates.
// It is owned by an external collaborator; the alerting core never writes it.
type Organization struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	CreatedAt    time.Time     `json:"created_at"`
	Plan         string        `json:"plan,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Stats        ActivityStats `json:"stats"`
	MemberCount  int           `json:"member_count"`
}

// AgeInDays returns the tenant age measured from CreatedAt to now.
func (o *Organization) AgeInDays(now time.Time) float64 {
	return now.Sub(o.CreatedAt).Hours() / 24
}

// DaysUntilTrialEnd returns the number of whole days until the trial ends,
// or -1 when the tenant has no trial end date.
func (o *Organization) DaysUntilTrialEnd(now time.Time) float64 {
	if o.Subscription == nil || o.Subscription.TrialEndsAt == nil {
		return -1
	}
	return o.Subscription.TrialEndsAt.Sub(now).Hours() / 24
}
