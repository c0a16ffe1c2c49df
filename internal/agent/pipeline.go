package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptail/sales-agent/internal/ai"
	"github.com/uptail/sales-agent/internal/chat"
	"go.uber.org/zap"
)

const defaultSummaryWindow = 10

type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// TurnResult is the outcome of one completed turn. The guideline lists hold
// ids in selection order and are never nil.
type TurnResult struct {
	SessionID          string   `json:"session_id"`
	Reply              string   `json:"reply"`
	HardGuidelinesUsed []string `json:"hard_guidelines_used"`
	SoftGuidelinesUsed []string `json:"soft_guidelines_used"`
}

type Option func(*Pipeline)

func WithLimits(hard, soft int) Option {
	return func(p *Pipeline) {
		p.hardCount = hard
		p.softCount = soft
	}
}

// WithWindows sets how many messages feed the prompt and the summary.
func WithWindows(prompt, summary int) Option {
	return func(p *Pipeline) {
		if prompt > 0 {
			p.contextWindow = prompt
		}
		if summary > 0 {
			p.summaryWindow = summary
		}
	}
}

// WithHistory makes the model see the recent window before the current
// message. Off by default: the model gets the current message only and
// earlier turns reach it through the session summary.
func WithHistory(on bool) Option {
	return func(p *Pipeline) { p.history = on }
}

func WithTemplate(tpl PromptTemplate) Option {
	return func(p *Pipeline) { p.template = tpl }
}

func WithLocker(l TurnLocker) Option {
	return func(p *Pipeline) { p.locker = l }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// Pipeline runs one conversational turn end to end: persist the user
// message, gather context, select guidelines, prompt the model, persist the
// reply, record usage and refresh the session summary.
type Pipeline struct {
	store    Store
	provider ai.Provider
	locker   TurnLocker
	metrics  *Metrics
	log      *zap.Logger
	template PromptTemplate

	hardCount     int
	softCount     int
	contextWindow int
	summaryWindow int
	history       bool

	gatherer   *ContextGatherer
	selector   *GuidelineSelector
	prompts    *PromptBuilder
	summarizer *Summarizer
}

func NewPipeline(store Store, provider ai.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         store,
		provider:      provider,
		log:           zap.NewNop(),
		template:      SalesTemplate,
		hardCount:     DefaultHardCount,
		softCount:     DefaultSoftCount,
		contextWindow: defaultContextWindow,
		summaryWindow: defaultSummaryWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.gatherer = NewContextGatherer(store, p.contextWindow)
	p.selector = NewGuidelineSelector(store)
	p.prompts = NewPromptBuilder(p.template)
	p.summarizer = NewSummarizer(provider, p.log.Named("summarizer"))
	return p
}

// ResolveSession returns id when that session exists and otherwise starts a
// new session. Lookup failures other than not-found are returned.
func (p *Pipeline) ResolveSession(ctx context.Context, id string) (string, error) {
	if id = strings.TrimSpace(id); id != "" {
		s, err := p.store.GetSession(ctx, id)
		if err == nil {
			return s.ID, nil
		}
		if !chat.IsNotFound(err) {
			return "", fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
	}
	s, err := p.store.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return s.ID, nil
}

// Respond executes a turn. Any failure after validation is a *PipelineError;
// rows written by earlier stages are kept.
func (p *Pipeline) Respond(ctx context.Context, req TurnRequest) (res *TurnResult, err error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	started := time.Now()
	var sessionID string
	defer func() {
		p.metrics.observeTurn(err)
		if err != nil {
			p.log.Error("turn failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		p.log.Info("turn completed",
			zap.String("session_id", sessionID),
			zap.Strings("hard", res.HardGuidelinesUsed),
			zap.Strings("soft", res.SoftGuidelinesUsed),
			zap.Duration("took", time.Since(started)),
		)
	}()

	if err = p.step(StageSessionResolved, func() error {
		id, err := p.ResolveSession(ctx, req.SessionID)
		sessionID = id
		return err
	}); err != nil {
		return nil, err
	}

	if p.locker != nil {
		unlock, lerr := p.locker.Lock(ctx, sessionID)
		if lerr != nil {
			return nil, &PipelineError{Stage: StageSessionResolved, Err: fmt.Errorf("acquire turn lock: %w", lerr)}
		}
		defer unlock()
	}

	if err = p.step(StageUserMessagePersisted, func() error {
		return p.store.InsertMessage(ctx, &chat.Message{SessionID: sessionID, Role: chat.RoleUser, Content: req.Message})
	}); err != nil {
		return nil, err
	}

	var tc *TurnContext
	if err = p.step(StageContextGathered, func() error {
		var err error
		tc, err = p.gatherer.Gather(ctx, sessionID, req.Message)
		return err
	}); err != nil {
		return nil, err
	}

	var sel Selection
	if err = p.step(StageGuidelinesSelected, func() error {
		var err error
		sel, err = p.selector.SelectApplicable(ctx, sessionID, req.Message, p.hardCount, p.softCount)
		return err
	}); err != nil {
		return nil, err
	}
	p.metrics.observeSelection(sel)

	promptStarted := time.Now()
	system := p.prompts.Build(PromptInput{
		Stage:   ClassifyStage(req.Message),
		Summary: tc.SessionSummary,
		Hard:    sel.Hard,
		Soft:    sel.Soft,
	})
	p.metrics.observeStage(StagePromptBuilt, promptStarted, nil)

	var reply string
	if err = p.step(StageModelInvoked, func() error {
		if p.provider == nil {
			return &ai.ConfigError{Provider: "agent", Reason: "no model provider configured"}
		}
		resp, err := p.provider.Chat(ctx, ai.ChatRequest{System: system, Messages: modelMessages(tc, p.history)})
		if err != nil {
			return err
		}
		reply = resp.Content
		return nil
	}); err != nil {
		return nil, err
	}

	assistant := &chat.Message{SessionID: sessionID, Role: chat.RoleAssistant, Content: reply}
	if err = p.step(StageAssistantMessagePersisted, func() error {
		return p.store.InsertMessage(ctx, assistant)
	}); err != nil {
		return nil, err
	}

	if err = p.step(StageUsageRecorded, func() error {
		return p.recordUsage(ctx, sessionID, assistant.ID, sel)
	}); err != nil {
		return nil, err
	}

	if err = p.step(StageSummaryRefreshed, func() error {
		return p.refreshSummary(ctx, sessionID, tc.SessionSummary)
	}); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:          sessionID,
		Reply:              reply,
		HardGuidelinesUsed: sel.HardIDs(),
		SoftGuidelinesUsed: sel.SoftIDs(),
	}, nil
}

func (p *Pipeline) step(stage Stage, fn func() error) error {
	started := time.Now()
	err := fn()
	p.metrics.observeStage(stage, started, err)
	if err != nil {
		return &PipelineError{Stage: stage, Err: err}
	}
	p.log.Debug("stage done", zap.String("stage", string(stage)), zap.Duration("took", time.Since(started)))
	return nil
}

// modelMessages always ends with the current user message. With history the
// recent window precedes it.
func modelMessages(tc *TurnContext, history bool) []ai.Message {
	current := ai.Message{Role: ai.RoleUser, Content: tc.Message}
	if !history {
		return []ai.Message{current}
	}
	msgs := append([]ai.Message(nil), tc.RecentMessages...)
	if n := len(msgs); n == 0 || msgs[n-1].Role != ai.RoleUser || msgs[n-1].Content != tc.Message {
		msgs = append(msgs, current)
	}
	return msgs
}

// recordUsage writes hard guidelines first, then soft. A row that already
// exists means a concurrent turn recorded it; that is not an error.
func (p *Pipeline) recordUsage(ctx context.Context, sessionID, messageID string, sel Selection) error {
	for _, g := range append(append([]chat.Guideline(nil), sel.Hard...), sel.Soft...) {
		inserted, err := p.store.CreateUsage(ctx, &chat.GuidelineUsage{
			SessionID:   sessionID,
			MessageID:   messageID,
			GuidelineID: g.ID,
		})
		if err != nil {
			return fmt.Errorf("record usage of %s: %w", g.ID, err)
		}
		if !inserted {
			p.log.Warn("guideline already used in session",
				zap.String("session_id", sessionID), zap.String("guideline_id", g.ID))
		}
	}
	return nil
}

func (p *Pipeline) refreshSummary(ctx context.Context, sessionID, existing string) error {
	recent, err := p.store.ListRecentMessages(ctx, sessionID, p.summaryWindow)
	if err != nil {
		return err
	}
	sum := p.summarizer.Generate(ctx, SummaryInput{
		RecentMessages:  chronological(recent),
		ExistingSummary: existing,
	})
	p.metrics.observeSummary(sum.Source)
	return p.store.UpdateSessionSummary(ctx, sessionID, sum.Text)
}
