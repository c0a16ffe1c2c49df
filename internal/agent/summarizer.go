package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/uptail/sales-agent/internal/ai"
	"go.uber.org/zap"
)

const (
	newConversationSummary = "New conversation started"
	summaryInstruction     = "Generate a concise 2-3 sentence summary of this conversation."
	previewRunes           = 50
)

type SummarySource string

const (
	SummaryFromModel SummarySource = "model"
	SummaryFallback  SummarySource = "fallback"
	SummaryEmpty     SummarySource = "empty"
)

type SummaryInput struct {
	// RecentMessages is chronological: oldest first.
	RecentMessages  []ai.Message
	ExistingSummary string
}

// SummaryResult always carries usable text. Err is set when the model path
// failed and Text is the deterministic fallback.
type SummaryResult struct {
	Text   string
	Source SummarySource
	Err    error
}

type Summarizer struct {
	provider ai.Provider
	log      *zap.Logger
}

func NewSummarizer(provider ai.Provider, log *zap.Logger) *Summarizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Summarizer{provider: provider, log: log}
}

// GenerateSummary never fails; see Generate for the details of the outcome.
func (s *Summarizer) GenerateSummary(ctx context.Context, in SummaryInput) string {
	return s.Generate(ctx, in).Text
}

func (s *Summarizer) Generate(ctx context.Context, in SummaryInput) SummaryResult {
	if len(in.RecentMessages) == 0 {
		return SummaryResult{Text: newConversationSummary, Source: SummaryEmpty}
	}

	text, err := s.callModel(ctx, in)
	if err == nil {
		return SummaryResult{Text: text, Source: SummaryFromModel}
	}

	err = fmt.Errorf("%w: %w", ErrSummaryGeneration, err)
	s.log.Warn("summary fallback", zap.Int("messages", len(in.RecentMessages)), zap.Error(err))
	return SummaryResult{Text: fallbackSummary(in.RecentMessages), Source: SummaryFallback, Err: err}
}

func (s *Summarizer) callModel(ctx context.Context, in SummaryInput) (string, error) {
	if s.provider == nil {
		return "", errors.New("no provider configured")
	}
	resp, err := s.provider.Chat(ctx, ai.ChatRequest{
		System:   summaryPrompt(in),
		Messages: []ai.Message{{Role: ai.RoleSystem, Content: summaryInstruction}},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("empty summary")
	}
	return text, nil
}

func summaryPrompt(in SummaryInput) string {
	var b strings.Builder
	b.WriteString("You are a conversation summarizer. Generate a concise 2-3 sentence summary of the conversation.\n\n")
	if in.ExistingSummary != "" {
		fmt.Fprintf(&b, "Previous summary: %s\n\n", in.ExistingSummary)
	}
	b.WriteString("Recent messages:\n")
	for i, m := range in.RecentMessages {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, m.Role, m.Content)
	}
	b.WriteString("\nGenerate a new summary that captures the key points and current state of the conversation.")
	return b.String()
}

// fallbackSummary describes the window without a model: its size and a
// preview of the newest message.
func fallbackSummary(msgs []ai.Message) string {
	last := msgs[len(msgs)-1]
	preview := last.Content
	if r := []rune(preview); len(r) > previewRunes {
		preview = string(r[:previewRunes]) + "..."
	}
	return fmt.Sprintf("Conversation with %d messages. Last message: %s said \"%s\"", len(msgs), last.Role, preview)
}
