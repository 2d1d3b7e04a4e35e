package core

import (
	"fmt"
	"time"
)

// Rule codes for the fixed tenant health rule set
const (
	RuleBillingPastDue       = "BILLING_PAST_DUE"
	RuleTrialEndingSoon      = "TRIAL_ENDING_SOON"
	RuleBillingNotConfigured = "BILLING_NOT_CONFIGURED"
	RuleNoAdminsAssigned     = "NO_ADMINS_ASSIGNED"
	RuleInactiveOrg          = "INACTIVE_ORG"
)

// inactivityThreshold is how long a tenant may be quiet before it is flagged
const inactivityThreshold = 7 * 24 * time.Hour

// trialEndingWindowDays flags trials ending within this many days
const trialEndingWindowDays = 3

// RuleFinding carries the alert attributes produced by a firing rule
type RuleFinding struct {
	Severity    AlertSeverity
	Title       string
	Description string
	ReasonCodes []string
}

// HealthRule evaluates one tenant health condition. Evaluate returns whether
// the condition holds together with the finding used to build the alert.
type HealthRule struct {
	Code     string
	Evaluate func(org *Organization, now time.Time) (bool, RuleFinding)
}

// HealthRules returns the fixed, ordered rule set evaluated for every tenant.
// The slice is rebuilt per call so callers cannot mutate the shared set.
func HealthRules() []HealthRule {
	return []HealthRule{
		{Code: RuleBillingPastDue, Evaluate: evaluateBillingPastDue},
		{Code: RuleTrialEndingSoon, Evaluate: evaluateTrialEndingSoon},
		{Code: RuleBillingNotConfigured, Evaluate: evaluateBillingNotConfigured},
		{Code: RuleNoAdminsAssigned, Evaluate: evaluateNoAdminsAssigned},
		{Code: RuleInactiveOrg, Evaluate: evaluateInactiveOrg},
	}
}

func evaluateBillingPastDue(org *Organization, now time.Time) (bool, RuleFinding) {
	sub := org.Subscription
	if sub == nil {
		return false, RuleFinding{}
	}
	if sub.Status != SubscriptionPastDue && sub.Status != SubscriptionUnpaid {
		return false, RuleFinding{}
	}
	return true, RuleFinding{
		Severity:    SeverityCritical,
		Title:       "Subscription payment is past due",
		Description: fmt.Sprintf("Tenant %q has subscription status %s; service interruption is imminent.", org.Name, sub.Status),
		ReasonCodes: []string{"subscription_" + string(sub.Status)},
	}
}

func evaluateTrialEndingSoon(org *Organization, now time.Time) (bool, RuleFinding) {
	sub := org.Subscription
	if sub == nil || sub.Status != SubscriptionTrialing {
		return false, RuleFinding{}
	}
	days := org.DaysUntilTrialEnd(now)
	if days < 0 || days > trialEndingWindowDays {
		return false, RuleFinding{}
	}
	return true, RuleFinding{
		Severity:    SeverityWarning,
		Title:       "Trial ends soon",
		Description: fmt.Sprintf("Tenant %q trial ends in %.1f days without a paid subscription.", org.Name, days),
		ReasonCodes: []string{"trial_ending"},
	}
}

func evaluateBillingNotConfigured(org *Organization, now time.Time) (bool, RuleFinding) {
	reasons := make([]string, 0, 2)
	if org.Subscription == nil {
		reasons = append(reasons, "no_subscription")
	} else if org.Subscription.ProviderCustomerID == "" {
		reasons = append(reasons, "no_provider_customer")
	}
	if len(reasons) == 0 {
		return false, RuleFinding{}
	}
	return true, RuleFinding{
		Severity:    SeverityWarning,
		Title:       "Billing is not configured",
		Description: fmt.Sprintf("Tenant %q has no billing configuration; invoicing cannot run.", org.Name),
		ReasonCodes: reasons,
	}
}

func evaluateNoAdminsAssigned(org *Organization, now time.Time) (bool, RuleFinding) {
	if org.MemberCount > 0 {
		return false, RuleFinding{}
	}
	return true, RuleFinding{
		Severity:    SeverityCritical,
		Title:       "No members assigned",
		Description: fmt.Sprintf("Tenant %q has zero members; nobody can administer the workspace.", org.Name),
		ReasonCodes: []string{"zero_members"},
	}
}

func evaluateInactiveOrg(org *Organization, now time.Time) (bool, RuleFinding) {
	last := org.Stats.LastActivityAt
	if last != nil && now.Sub(*last) <= inactivityThreshold {
		return false, RuleFinding{}
	}
	reason := "no_recorded_activity"
	desc := fmt.Sprintf("Tenant %q has no recorded activity.", org.Name)
	if last != nil {
		reason = "stale_activity"
		desc = fmt.Sprintf("Tenant %q has been inactive for %.0f days.", org.Name, now.Sub(*last).Hours()/24)
	}
	return true, RuleFinding{
		Severity:    SeverityInfo,
		Title:       "Tenant appears inactive",
		Description: desc,
		ReasonCodes: []string{reason},
	}
}
