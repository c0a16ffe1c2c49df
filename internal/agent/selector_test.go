package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptail/sales-agent/internal/chat"
)

func TestMatchesTriggers(t *testing.T) {
	cases := []struct {
		name     string
		triggers []string
		message  string
		want     bool
	}{
		{"no triggers", nil, "anything", true},
		{"case-insensitive", []string{"precio"}, "¿Cuál es el PRECIO?", true},
		{"substring", []string{"cost"}, "what does it cost?", true},
		{"mixed-case trigger", []string{"How Much"}, "how much is it", true},
		{"any of many", []string{"demo", "cuesta"}, "¿Cuánto cuesta?", true},
		{"no hit", []string{"precio"}, "hola", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchesTriggers(tc.triggers, tc.message))
		})
	}
}

func TestSelectApplicable_FiltersAndCaps(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	sid := newSession(t, r)

	h1 := addGuideline(t, r, chat.Guideline{Title: "h1", Strength: chat.StrengthHard, Priority: 9, Active: true})
	h2 := addGuideline(t, r, chat.Guideline{Title: "h2", Strength: chat.StrengthHard, Priority: 8, Active: true, Triggers: []string{"precio"}})
	addGuideline(t, r, chat.Guideline{Title: "h3", Strength: chat.StrengthHard, Priority: 7, Active: true})
	addGuideline(t, r, chat.Guideline{Title: "off", Strength: chat.StrengthHard, Priority: 99, Active: false})
	addGuideline(t, r, chat.Guideline{Title: "miss", Strength: chat.StrengthHard, Priority: 50, Active: true, Triggers: []string{"demo"}})
	s1 := addGuideline(t, r, chat.Guideline{Title: "s1", Strength: chat.StrengthSoft, Priority: 5, Active: true})

	sel, err := NewGuidelineSelector(r).SelectApplicable(ctx, sid, "¿Cuál es el PRECIO?", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{h1.ID, h2.ID}, sel.HardIDs())
	assert.Equal(t, []string{s1.ID}, sel.SoftIDs(), "never padded")
}

func TestSelectApplicable_ExcludesUsed(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	sid := newSession(t, r)
	g := addGuideline(t, r, chat.Guideline{Strength: chat.StrengthHard, Active: true})

	sel := NewGuidelineSelector(r)
	first, err := sel.SelectApplicable(ctx, sid, "hi", 2, 2)
	require.NoError(t, err)
	require.Equal(t, []string{g.ID}, first.HardIDs())

	m := chat.Message{SessionID: sid, Role: chat.RoleAssistant, Content: "x"}
	require.NoError(t, r.InsertMessage(ctx, &m))
	_, err = r.CreateUsage(ctx, &chat.GuidelineUsage{SessionID: sid, MessageID: m.ID, GuidelineID: g.ID})
	require.NoError(t, err)

	second, err := sel.SelectApplicable(ctx, sid, "hi", 2, 2)
	require.NoError(t, err)
	assert.Empty(t, second.Hard)
	assert.NotNil(t, second.Hard)
}

func TestSelectApplicable_ZeroCounts(t *testing.T) {
	r := newRepo(t)
	sid := newSession(t, r)
	addGuideline(t, r, chat.Guideline{Strength: chat.StrengthHard, Active: true})

	sel, err := NewGuidelineSelector(r).SelectApplicable(context.Background(), sid, "hi", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, sel.Hard)
	assert.Empty(t, sel.Soft)
}

func TestSelectApplicable_StoreFailure(t *testing.T) {
	r := newRepo(t)
	_, err := NewGuidelineSelector(brokenStore{Store: r, failGuidelines: true}).
		SelectApplicable(context.Background(), "s", "hi", 2, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuidelineSelection)
	assert.ErrorIs(t, err, errStoreDown)
}
