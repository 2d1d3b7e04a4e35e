package core

// PlaybookStep is one ordered step of a remediation procedure
type PlaybookStep struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Playbook is an ordered remediation procedure keyed by rule code
type Playbook struct {
	RuleCode         string         `json:"rule_code"`
	Name             string         `json:"name"`
	Steps            []PlaybookStep `json:"steps"`
	DefaultSLAPreset SLAPreset      `json:"default_sla_preset"`
}

// StepCount returns the number of steps in the playbook
func (p Playbook) StepCount() int {
	return len(p.Steps)
}

// HasStep reports whether the playbook contains the given step id
func (p Playbook) HasStep(stepID string) bool {
	for _, s := range p.Steps {
		if s.ID == stepID {
			return true
		}
	}
	return false
}

// genericPlaybook is returned for rule codes without a dedicated procedure,
// including historical codes kept on old alerts.
var genericPlaybook = Playbook{
	RuleCode: "GENERIC",
	Name:     "Generic remediation",
	Steps: []PlaybookStep{
		{ID: "investigate", Title: "Investigate the reported condition"},
		{ID: "document", Title: "Document findings and root cause"},
		{ID: "resolve", Title: "Apply remediation and confirm resolution"},
	},
	DefaultSLAPreset: SLAPreset72h,
}

// playbookCatalog is the static remediation table. Loaded once, never mutated.
var playbookCatalog = map[string]Playbook{
	RuleBillingPastDue: {
		RuleCode: RuleBillingPastDue,
		Name:     "Past-due billing recovery",
		Steps: []PlaybookStep{
			{ID: "verify-invoice", Title: "Verify the failed invoice in the billing provider"},
			{ID: "contact-owner", Title: "Contact the tenant billing owner"},
			{ID: "retry-charge", Title: "Retry the charge or update the payment method"},
			{ID: "confirm-paid", Title: "Confirm the subscription is back in good standing"},
		},
		DefaultSLAPreset: SLAPreset24h,
	},
	RuleTrialEndingSoon: {
		RuleCode: RuleTrialEndingSoon,
		Name:     "Trial conversion outreach",
		Steps: []PlaybookStep{
			{ID: "review-usage", Title: "Review tenant usage during the trial"},
			{ID: "reach-out", Title: "Reach out with a conversion offer"},
			{ID: "record-outcome", Title: "Record the conversion outcome"},
		},
		DefaultSLAPreset: SLAPreset72h,
	},
	RuleBillingNotConfigured: {
		RuleCode: RuleBillingNotConfigured,
		Name:     "Billing setup",
		Steps: []PlaybookStep{
			{ID: "check-provider", Title: "Check the payment provider for a customer record"},
			{ID: "link-customer", Title: "Create or link the provider customer"},
			{ID: "verify-sync", Title: "Verify the subscription synchronizes"},
		},
		DefaultSLAPreset: SLAPreset72h,
	},
	RuleNoAdminsAssigned: {
		RuleCode: RuleNoAdminsAssigned,
		Name:     "Orphaned tenant recovery",
		Steps: []PlaybookStep{
			{ID: "find-contact", Title: "Locate the original signup contact"},
			{ID: "invite-admin", Title: "Invite or restore an administrator"},
			{ID: "confirm-access", Title: "Confirm the administrator can sign in"},
		},
		DefaultSLAPreset: SLAPreset24h,
	},
	RuleInactiveOrg: {
		RuleCode: RuleInactiveOrg,
		Name:     "Inactive tenant check-in",
		Steps: []PlaybookStep{
			{ID: "review-activity", Title: "Review the tenant activity history"},
			{ID: "check-health", Title: "Check for blocking product issues"},
			{ID: "reach-out", Title: "Reach out to the tenant"},
		},
		DefaultSLAPreset: SLAPreset72h,
	},
}

// PlaybookByRule resolves the remediation procedure for a rule code.
// Unknown codes resolve to the generic fallback, never an error.
func PlaybookByRule(ruleCode string) Playbook {
	if pb, ok := playbookCatalog[ruleCode]; ok {
		return pb
	}
	return genericPlaybook
}
