// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/controlplane/tier"
	"axonflow/controlplane/usage"
)

type memSubs struct {
	subs map[string]*Subscription
}

func (m *memSubs) Get(userID string) (*Subscription, bool) {
	s, ok := m.subs[userID]
	return s, ok
}

func newTestGate(subs map[string]*Subscription) (*Gate, *usage.Counter) {
	counter := usage.NewCounter()
	g := New(tier.Default(), counter, &memSubs{subs: subs})
	return g, counter
}

func activeSub(userID, tierName string) *Subscription {
	return &Subscription{
		UserID:           userID,
		Tier:             tierName,
		Status:           SubStatusActive,
		CurrentPeriodEnd: time.Now().Add(20 * 24 * time.Hour),
	}
}

func TestCheck_GrantCarriesTierAndRemaining(t *testing.T) {
	g, counter := newTestGate(map[string]*Subscription{
		"user-1": activeSub("user-1", tier.Personal),
	})
	counter.IncrementExecutions("user-1")
	counter.IncrementExecutions("user-1")

	grant, err := g.Check(Request{UserID: "user-1", Provider: "bedrock", ModelID: "claude-sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", grant.UserID)
	assert.Equal(t, tier.Personal, grant.Tier)
	assert.Equal(t, 98, grant.Remaining)
}

func TestCheck_AnonymousPaidProviderDenied(t *testing.T) {
	g, _ := newTestGate(nil)

	grant, err := g.Check(Request{UserID: "", Provider: "bedrock", ModelID: "claude-sonnet"})
	require.Error(t, err)
	assert.Nil(t, grant)

	d, ok := AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, CodeSubscriptionInvalid, d.Code)
	assert.Equal(t, "anonymous", d.Subreason)
	assert.NotEmpty(t, d.Hint)
}

func TestCheck_AnonymousFreeProviderRunsAsFreemium(t *testing.T) {
	g, _ := newTestGate(nil)

	grant, err := g.Check(Request{UserID: "", Provider: "ollama", ModelID: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, tier.Freemium, grant.Tier)
}

func TestCheck_MissingSubscriptionResolvesToFreemium(t *testing.T) {
	g, _ := newTestGate(nil)

	grant, err := g.Check(Request{UserID: "user-1", Provider: "ollama", ModelID: "mistral-7b"})
	require.NoError(t, err)
	assert.Equal(t, tier.Freemium, grant.Tier)

	// Freemium never sees bedrock.
	_, err = g.Check(Request{UserID: "user-1", Provider: "bedrock", ModelID: "claude-sonnet"})
	require.Error(t, err)
	d, _ := AsDenial(err)
	assert.Equal(t, CodeProviderNotAllowed, d.Code)
}

func TestCheck_SubscriptionHealthMessagesAreDistinct(t *testing.T) {
	cases := []struct {
		status    string
		subreason string
	}{
		{SubStatusPastDue, "past_due"},
		{SubStatusDisputed, "disputed"},
		{SubStatusCanceled, "canceled"},
	}

	reasons := map[string]bool{}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			g, _ := newTestGate(map[string]*Subscription{
				"user-1": {UserID: "user-1", Tier: tier.Personal, Status: tc.status},
			})
			_, err := g.Check(Request{UserID: "user-1", Provider: "ollama", ModelID: "llama3"})
			require.Error(t, err)

			d, ok := AsDenial(err)
			require.True(t, ok)
			assert.Equal(t, CodeSubscriptionInvalid, d.Code)
			assert.Equal(t, tc.subreason, d.Subreason)
			assert.False(t, reasons[d.Reason], "each status needs its own message")
			reasons[d.Reason] = true
		})
	}
}

func TestCheck_PeriodEndGraceWindow(t *testing.T) {
	now := time.Now()
	sub := activeSub("user-1", tier.Personal)

	// Inside grace: period ended yesterday, still allowed.
	sub.CurrentPeriodEnd = now.Add(-24 * time.Hour)
	g, _ := newTestGate(map[string]*Subscription{"user-1": sub})
	_, err := g.Check(Request{UserID: "user-1", Provider: "bedrock", ModelID: "claude-sonnet"})
	require.NoError(t, err)

	// Past grace: period ended four days ago, denied.
	sub.CurrentPeriodEnd = now.Add(-4 * 24 * time.Hour)
	_, err = g.Check(Request{UserID: "user-1", Provider: "bedrock", ModelID: "claude-sonnet"})
	require.Error(t, err)
	d, _ := AsDenial(err)
	assert.Equal(t, CodeSubscriptionInvalid, d.Code)
	assert.Equal(t, "period_expired", d.Subreason)
}

func TestCheck_ModelFamilyDeniedBeforeQuota(t *testing.T) {
	g, counter := newTestGate(map[string]*Subscription{
		"user-1": activeSub("user-1", tier.Personal),
	})
	// Exhaust the quota so both checks would fire; family must win.
	for i := 0; i < 200; i++ {
		counter.IncrementExecutions("user-1")
	}

	_, err := g.Check(Request{UserID: "user-1", Provider: "bedrock", ModelID: "gpt-4o"})
	require.Error(t, err)
	d, _ := AsDenial(err)
	assert.Equal(t, CodeModelNotAllowed, d.Code)
}

func TestCheck_QuotaExceededOnFreemium(t *testing.T) {
	g, counter := newTestGate(nil)
	for i := 0; i < 50; i++ {
		counter.IncrementExecutions("user-1")
	}

	_, err := g.Check(Request{UserID: "user-1", Provider: "ollama", ModelID: "llama3"})
	require.Error(t, err)

	d, ok := AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, CodeQuotaExceeded, d.Code)
	assert.Contains(t, d.Reason, "50")
	assert.NotEmpty(t, d.Hint)
}

func TestCheck_EnterpriseIsUnlimited(t *testing.T) {
	g, counter := newTestGate(map[string]*Subscription{
		"user-1": activeSub("user-1", tier.Enterprise),
	})
	for i := 0; i < 10000; i++ {
		counter.IncrementExecutions("user-1")
	}

	grant, err := g.Check(Request{UserID: "user-1", Provider: "bedrock", ModelID: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, tier.Unlimited, grant.Remaining)
}
