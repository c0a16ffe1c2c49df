package agent

import (
	"fmt"
	"strings"

	"github.com/uptail/sales-agent/internal/chat"
)

const (
	InitialStage       = "Initial conversation stage"
	noSummaryFallback  = "No previous conversation"
	ruleLineFormat     = "• %s (id:%s)"
	hardRulesHeading   = "HARD RULES (must follow):"
	softTacticsHeading = "SOFT TACTICS (try to follow):"
)

// stageRules are checked in order; the first keyword hit decides the stage.
var stageRules = []struct {
	stage    string
	keywords []string
}{
	{"Price inquiry stage", []string{"price", "cost", "how much"}},
	{"Feature inquiry stage", []string{"feature", "capability", "can you"}},
	{"Qualification stage", []string{"interested", "looking for", "need"}},
	{"Meeting booking stage", []string{"yes", "sounds good", "schedule"}},
}

// ClassifyStage labels the sales stage of a user message.
func ClassifyStage(message string) string {
	msg := strings.ToLower(message)
	for _, r := range stageRules {
		for _, kw := range r.keywords {
			if strings.Contains(msg, kw) {
				return r.stage
			}
		}
	}
	return InitialStage
}

// Section is one block of the system prompt. Sections without a heading
// render their lines only.
type Section struct {
	Heading string
	Lines   []string
}

func (s Section) render(b *strings.Builder) {
	if s.Heading != "" {
		b.WriteString(s.Heading)
		b.WriteByte('\n')
	}
	b.WriteString(strings.Join(s.Lines, "\n"))
}

// Prompt renders its sections separated by one blank line.
type Prompt []Section

func (p Prompt) String() string {
	var b strings.Builder
	for i, s := range p {
		if i > 0 {
			b.WriteString("\n\n")
		}
		s.render(&b)
	}
	return b.String()
}

type PromptInput struct {
	Stage   string
	Summary string
	Hard    []chat.Guideline
	Soft    []chat.Guideline
}

// PromptTemplate holds the fixed text around the dynamic sections.
type PromptTemplate struct {
	Preamble []string
	Style    []string
	Closing  []string
}

var SalesTemplate = PromptTemplate{
	Preamble: []string{
		"You are Uptail's Sales Agent. Goal: progress the conversation to a qualified next step or a booked meeting.",
		"Architecture matters: your outputs must be predictable and modular so multiple agents can scale independently.",
		"Follow HARD rules strictly. Prefer SOFT tactics when possible. Stay concise and friendly.",
	},
	Style: []string{
		"- Keep messages < 120 words.",
		"- Ask one clear question at a time.",
		"- Never hallucinate unavailable features; offer to check and follow up.",
	},
	Closing: []string{
		"If a user asks for price: never quote exact price; book a call with sales. If uncertainty: ask a clarifying question, then move forward to the next step.",
	},
}

type PromptBuilder struct {
	tpl PromptTemplate
}

func NewPromptBuilder(tpl PromptTemplate) *PromptBuilder {
	return &PromptBuilder{tpl: tpl}
}

// Sections assembles the prompt without rendering it.
func (b *PromptBuilder) Sections(in PromptInput) Prompt {
	stage := in.Stage
	if stage == "" {
		stage = InitialStage
	}
	summary := in.Summary
	if strings.TrimSpace(summary) == "" {
		summary = noSummaryFallback
	}

	p := Prompt{
		{Lines: b.tpl.Preamble},
		{Heading: "CONTEXT", Lines: []string{
			"- Stage: " + stage,
			"- Session summary: " + summary,
		}},
		{Heading: hardRulesHeading, Lines: ruleLines(in.Hard)},
		{Heading: softTacticsHeading, Lines: ruleLines(in.Soft)},
	}
	if len(b.tpl.Style) > 0 {
		p = append(p, Section{Heading: "STYLE:", Lines: b.tpl.Style})
	}
	if len(b.tpl.Closing) > 0 {
		p = append(p, Section{Lines: b.tpl.Closing})
	}
	return p
}

func (b *PromptBuilder) Build(in PromptInput) string {
	return b.Sections(in).String()
}

func ruleLines(gs []chat.Guideline) []string {
	lines := make([]string, 0, len(gs))
	for _, g := range gs {
		lines = append(lines, fmt.Sprintf(ruleLineFormat, g.Content, g.ID))
	}
	return lines
}
