package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyEnvironment(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		org          Organization
		wantClass    EnvironmentClass
		wantRelevant bool
	}{
		{
			name:         "test marker in name",
			org:          Organization{Name: "My Test Org", CreatedAt: now.AddDate(0, -6, 0)},
			wantClass:    EnvTest,
			wantRelevant: false,
		},
		{
			name:         "spanish test marker",
			org:          Organization{Name: "Cuenta de Prueba", CreatedAt: now.AddDate(0, -6, 0)},
			wantClass:    EnvTest,
			wantRelevant: false,
		},
		{
			name:         "demo marker in name",
			org:          Organization{Name: "Sales Demo Chile", CreatedAt: now.AddDate(0, -6, 0)},
			wantClass:    EnvDemo,
			wantRelevant: false,
		},
		{
			name:         "qa marker beats plan",
			org:          Organization{Name: "staging-eu", Plan: "PRO", CreatedAt: now.AddDate(0, -6, 0)},
			wantClass:    EnvQA,
			wantRelevant: false,
		},
		{
			name: "fresh trial is not relevant",
			org: Organization{
				Name:         "Acme Corp",
				CreatedAt:    now.Add(-20 * time.Hour),
				Subscription: &Subscription{Status: SubscriptionTrialing},
			},
			wantClass:    EnvTrial,
			wantRelevant: false,
		},
		{
			name: "aged trial is relevant",
			org: Organization{
				Name:         "Acme Corp",
				CreatedAt:    now.AddDate(0, 0, -3),
				Subscription: &Subscription{Status: SubscriptionTrialing},
			},
			wantClass:    EnvTrial,
			wantRelevant: true,
		},
		{
			name:         "paid plan is production",
			org:          Organization{Name: "Northwind", Plan: "PRO", CreatedAt: now.AddDate(-1, 0, 0)},
			wantClass:    EnvProduction,
			wantRelevant: true,
		},
		{
			name:         "free plan with long name defaults to production",
			org:          Organization{Name: "Contoso Ltd", Plan: "FREE", CreatedAt: now.AddDate(-1, 0, 0)},
			wantClass:    EnvProduction,
			wantRelevant: true,
		},
		{
			name:         "short ambiguous name is unknown",
			org:          Organization{Name: "ab", CreatedAt: now.AddDate(-1, 0, 0)},
			wantClass:    EnvUnknown,
			wantRelevant: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyEnvironment(&tt.org, now)
			assert.Equal(t, tt.wantClass, got.Class)
			assert.Equal(t, tt.wantRelevant, got.IsRelevant)
			if !got.IsRelevant && got.Class != EnvTrial {
				assert.NotEmpty(t, got.ExclusionReason)
			}
		})
	}
}

func TestClassifyEnvironmentFirstMatchWins(t *testing.T) {
	now := time.Now().UTC()
	// "demo" and "test" both present; test markers are checked first.
	org := Organization{Name: "demo test workspace", CreatedAt: now.AddDate(0, -1, 0)}
	got := ClassifyEnvironment(&org, now)
	assert.Equal(t, EnvTest, got.Class)
}
