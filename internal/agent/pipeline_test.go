package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptail/sales-agent/internal/ai"
	"github.com/uptail/sales-agent/internal/chat"
	fixtures "github.com/uptail/sales-agent/internal/testutil"
)

const summarizerPrefix = "You are a conversation summarizer"

// salesModel replies to turns with reply and to summary requests with summary.
func salesModel(reply, summary string) *fixtures.FakeProvider {
	return &fixtures.FakeProvider{Respond: func(req ai.ChatRequest) (string, error) {
		if strings.HasPrefix(req.System, summarizerPrefix) {
			return summary, nil
		}
		return reply, nil
	}}
}

func seededRepo(t *testing.T) *chat.Repo {
	t.Helper()
	r := newRepo(t)
	_, err := chat.NewService(r).SeedGuidelines(context.Background())
	require.NoError(t, err)
	return r
}

func guidelineByTitle(t *testing.T, r *chat.Repo, title string) chat.Guideline {
	t.Helper()
	gs, err := r.ListGuidelines(context.Background())
	require.NoError(t, err)
	for _, g := range gs {
		if g.Title == title {
			return g
		}
	}
	t.Fatalf("guideline %q not seeded", title)
	return chat.Guideline{}
}

func TestRespond_PriceQuestionEndToEnd(t *testing.T) {
	ctx := context.Background()
	r := seededRepo(t)
	model := salesModel("Prefiero que lo veamos en una llamada. ¿Te va bien el martes?", "The user asked for the price.")
	p := NewPipeline(r, model)

	res, err := p.Respond(ctx, TurnRequest{Message: "¿Cuánto cuesta?"})
	require.NoError(t, err)

	precio := guidelineByTitle(t, r, "Precio")
	tono := guidelineByTitle(t, r, "Tono")
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "Prefiero que lo veamos en una llamada. ¿Te va bien el martes?", res.Reply)
	assert.Equal(t, []string{precio.ID}, res.HardGuidelinesUsed)
	assert.Equal(t, []string{tono.ID}, res.SoftGuidelinesUsed)

	calls := model.Calls()
	require.Len(t, calls, 2)
	turn := calls[0]
	assert.Contains(t, turn.System, "• "+precio.Content+" (id:"+precio.ID+")")
	assert.Contains(t, turn.System, "• "+tono.Content+" (id:"+tono.ID+")")
	assert.Contains(t, turn.System, "- Stage: Initial conversation stage")
	assert.Contains(t, turn.System, "- Session summary: No previous conversation")
	require.NotEmpty(t, turn.Messages)
	assert.Equal(t, ai.Message{Role: ai.RoleUser, Content: "¿Cuánto cuesta?"}, turn.Messages[len(turn.Messages)-1])

	msgs, err := r.ListMessagesBySession(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)

	usages, err := r.ListUsageByMessage(ctx, msgs[1].ID)
	require.NoError(t, err)
	assert.Len(t, usages, 2)

	s, err := r.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, s.Summary)
	assert.Equal(t, "The user asked for the price.", *s.Summary)
}

func TestRespond_DoesNotRepeatGuidelines(t *testing.T) {
	ctx := context.Background()
	r := seededRepo(t)
	model := salesModel("ok", "summary one")
	p := NewPipeline(r, model)

	first, err := p.Respond(ctx, TurnRequest{Message: "¿Cuánto cuesta?"})
	require.NoError(t, err)
	require.NotEmpty(t, first.HardGuidelinesUsed)

	second, err := p.Respond(ctx, TurnRequest{SessionID: first.SessionID, Message: "¿Cuánto cuesta?"})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Empty(t, second.HardGuidelinesUsed)
	assert.NotNil(t, second.HardGuidelinesUsed)
	assert.NotContains(t, second.SoftGuidelinesUsed, first.SoftGuidelinesUsed[0])

	// earlier turns reach the model through the summary only
	calls := model.Calls()
	require.Len(t, calls, 4)
	assert.Contains(t, calls[2].System, "- Session summary: summary one")
	assert.Equal(t, []ai.Message{{Role: ai.RoleUser, Content: "¿Cuánto cuesta?"}}, calls[2].Messages)

	usages, err := r.ListUsageBySession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Len(t, usages, len(first.HardGuidelinesUsed)+len(first.SoftGuidelinesUsed)+len(second.SoftGuidelinesUsed))
}

func TestRespond_UnknownSessionStartsNewOne(t *testing.T) {
	r := newRepo(t)
	res, err := NewPipeline(r, salesModel("hi", "s")).Respond(context.Background(), TurnRequest{SessionID: "does-not-exist", Message: "hello"})
	require.NoError(t, err)
	assert.NotEqual(t, "does-not-exist", res.SessionID)
	_, err = r.GetSession(context.Background(), res.SessionID)
	assert.NoError(t, err)
}

func TestRespond_EmptyMessage(t *testing.T) {
	model := salesModel("x", "y")
	_, err := NewPipeline(newRepo(t), model).Respond(context.Background(), TurnRequest{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, model.Calls())
}

func TestRespond_ModelFailureAbortsWithoutRollback(t *testing.T) {
	ctx := context.Background()
	r := seededRepo(t)
	model := &fixtures.FakeProvider{Respond: func(ai.ChatRequest) (string, error) {
		return "", &ai.CallError{Provider: "openai", Status: 429, Message: "rate limited"}
	}}
	sid := newSession(t, r)

	_, err := NewPipeline(r, model).Respond(ctx, TurnRequest{SessionID: sid, Message: "¿Cuánto cuesta?"})
	require.Error(t, err)

	var pe *PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageModelInvoked, pe.Stage)
	assert.True(t, ai.IsCallError(err))
	assert.Equal(t, "sales agent pipeline failed: openai: status 429: rate limited", err.Error())

	msgs, err := r.ListMessagesBySession(ctx, sid)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "user message stays persisted")
	usages, err := r.ListUsageBySession(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, usages)
}

func TestRespond_StageFailuresAreWrapped(t *testing.T) {
	cases := []struct {
		name  string
		store func(*chat.Repo) Store
		stage Stage
		cause error
	}{
		{"context", func(r *chat.Repo) Store { return brokenStore{Store: r, failRecent: true} }, StageContextGathered, ErrContextUnavailable},
		{"selection", func(r *chat.Repo) Store { return brokenStore{Store: r, failGuidelines: true} }, StageGuidelinesSelected, ErrGuidelineSelection},
		{"summary", func(r *chat.Repo) Store { return brokenStore{Store: r, failSummary: true} }, StageSummaryRefreshed, errStoreDown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPipeline(tc.store(newRepo(t)), salesModel("x", "y")).
				Respond(context.Background(), TurnRequest{Message: "hi"})
			var pe *PipelineError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tc.stage, pe.Stage)
			assert.ErrorIs(t, err, tc.cause)
		})
	}
}

func TestRespond_SummaryFallbackStillCompletes(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	model := &fixtures.FakeProvider{Respond: func(req ai.ChatRequest) (string, error) {
		if strings.HasPrefix(req.System, summarizerPrefix) {
			return "", errors.New("summary model down")
		}
		return "Hello there", nil
	}}
	reg := prometheus.NewRegistry()
	metrics := MustNewMetrics(reg)

	res, err := NewPipeline(r, model, WithMetrics(metrics)).Respond(ctx, TurnRequest{Message: "hi"})
	require.NoError(t, err)

	s, err := r.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, s.Summary)
	assert.Equal(t, `Conversation with 2 messages. Last message: assistant said "Hello there"`, *s.Summary)

	assert.Equal(t, 1, testutil.CollectAndCount(reg, "sales_agent_pipeline_turns_total"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.summaries.WithLabelValues(string(SummaryFallback))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.turns.WithLabelValues("ok")))
	// every stage, prompt building included, reports one ok observation
	assert.Equal(t, 9, testutil.CollectAndCount(reg, "sales_agent_pipeline_stage_duration_seconds"))
}

func TestRespond_Limits(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	for i := 0; i < 4; i++ {
		addGuideline(t, r, chat.Guideline{Strength: chat.StrengthHard, Priority: i, Active: true})
		addGuideline(t, r, chat.Guideline{Strength: chat.StrengthSoft, Priority: i, Active: true})
	}

	res, err := NewPipeline(r, salesModel("x", "y"), WithLimits(3, 1)).Respond(ctx, TurnRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Len(t, res.HardGuidelinesUsed, 3)
	assert.Len(t, res.SoftGuidelinesUsed, 1)
}

type countingLocker struct {
	locked, unlocked int
}

func (l *countingLocker) Lock(context.Context, string) (func(), error) {
	l.locked++
	return func() { l.unlocked++ }, nil
}

func TestRespond_UsesLocker(t *testing.T) {
	l := &countingLocker{}
	_, err := NewPipeline(newRepo(t), salesModel("x", "y"), WithLocker(l)).
		Respond(context.Background(), TurnRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, l.locked)
	assert.Equal(t, 1, l.unlocked)
}

// storeTranscript writes n alternating user/assistant messages m00, m01, ...
func storeTranscript(t *testing.T, r *chat.Repo, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		require.NoError(t, r.InsertMessage(context.Background(), &chat.Message{
			SessionID: sessionID, Role: role, Content: fmt.Sprintf("m%02d", i),
		}))
	}
}

func TestRespond_HistoryOption(t *testing.T) {
	r := newRepo(t)
	sid := newSession(t, r)
	storeTranscript(t, r, sid, 12)

	model := salesModel("ok", "s")
	_, err := NewPipeline(r, model, WithHistory(true)).Respond(context.Background(), TurnRequest{SessionID: sid, Message: "hello"})
	require.NoError(t, err)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleAssistant, Content: "m09"},
		{Role: ai.RoleUser, Content: "m10"},
		{Role: ai.RoleAssistant, Content: "m11"},
		{Role: ai.RoleUser, Content: "hello"},
	}, calls[0].Messages)
}

func TestRespond_SummaryReadsLastTenOldestFirst(t *testing.T) {
	r := newRepo(t)
	sid := newSession(t, r)
	storeTranscript(t, r, sid, 12)

	model := salesModel("ok", "s")
	_, err := NewPipeline(r, model).Respond(context.Background(), TurnRequest{SessionID: sid, Message: "hello"})
	require.NoError(t, err)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []ai.Message{{Role: ai.RoleUser, Content: "hello"}}, calls[0].Messages)

	var want strings.Builder
	want.WriteString("Recent messages:\n")
	n := 1
	for i := 4; i < 12; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		fmt.Fprintf(&want, "%d. %s: m%02d\n", n, role, i)
		n++
	}
	want.WriteString("9. user: hello\n10. assistant: ok\n")
	assert.Contains(t, calls[1].System, want.String())
	assert.NotContains(t, calls[1].System, "m03")
}
