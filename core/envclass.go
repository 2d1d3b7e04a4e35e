package core

import (
	"strings"
	"time"
)

// EnvironmentClass is the coarse tenant category used to suppress
// non-production noise from operational views.
type EnvironmentClass string

const (
	EnvProduction EnvironmentClass = "production"
	EnvDemo       EnvironmentClass = "demo"
	EnvTest       EnvironmentClass = "test"
	EnvQA         EnvironmentClass = "qa"
	EnvTrial      EnvironmentClass = "trial"
	EnvUnknown    EnvironmentClass = "unknown"
)

// EnvironmentClassification is the derived, non-persisted verdict for a tenant.
type EnvironmentClassification struct {
	Class           EnvironmentClass `json:"environment_class"`
	IsRelevant      bool             `json:"is_operationally_relevant"`
	ExclusionReason string           `json:"exclusion_reason,omitempty"`
}

// freshTrialMinAgeDays is the minimum tenant age before a trialing tenant
// counts as operationally relevant. Fresh trials generate setup noise.
const freshTrialMinAgeDays = 2

var (
	testNameMarkers = []string{"test", "prueba", "sandbox"}
	demoNameMarkers = []string{"demo", "ejemplo", "muestra"}
	qaNameMarkers   = []string{"qa", "staging", "dev"}
)

// ClassifyEnvironment assigns a tenant to an environment class, first match
// wins. Name matching is a case-insensitive substring check. The function is
// pure and never fails; ambiguous non-trivial names default to production.
func ClassifyEnvironment(org *Organization, now time.Time) EnvironmentClassification {
	name := strings.ToLower(org.Name)

	if marker := matchMarker(name, testNameMarkers); marker != "" {
		return EnvironmentClassification{
			Class:           EnvTest,
			ExclusionReason: "name contains test marker " + quoteMarker(marker),
		}
	}
	if marker := matchMarker(name, demoNameMarkers); marker != "" {
		return EnvironmentClassification{
			Class:           EnvDemo,
			ExclusionReason: "name contains demo marker " + quoteMarker(marker),
		}
	}
	if marker := matchMarker(name, qaNameMarkers); marker != "" {
		return EnvironmentClassification{
			Class:           EnvQA,
			ExclusionReason: "name contains qa marker " + quoteMarker(marker),
		}
	}

	if org.Subscription != nil && org.Subscription.Status == SubscriptionTrialing {
		if org.AgeInDays(now) >= freshTrialMinAgeDays {
			return EnvironmentClassification{Class: EnvTrial, IsRelevant: true}
		}
		return EnvironmentClassification{
			Class:           EnvTrial,
			ExclusionReason: "trial younger than 48h",
		}
	}

	if plan := strings.ToUpper(org.Plan); plan != "" && plan != "FREE" && plan != "TRIAL" {
		return EnvironmentClassification{Class: EnvProduction, IsRelevant: true}
	}

	if len(org.Name) > 3 {
		return EnvironmentClassification{Class: EnvProduction, IsRelevant: true}
	}

	return EnvironmentClassification{
		Class:           EnvUnknown,
		ExclusionReason: "name too short to classify",
	}
}

func matchMarker(name string, markers []string) string {
	for _, m := range markers {
		if strings.Contains(name, m) {
			return m
		}
	}
	return ""
}

func quoteMarker(marker string) string {
	return "\"" + marker + "\""
}
