package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/uptail/sales-agent/internal/chat"
)

func TestClassifyStage(t *testing.T) {
	cases := map[string]string{
		"What does it cost?":               "Price inquiry stage",
		"How much is the pro plan":         "Price inquiry stage",
		"Can you integrate with Slack?":    "Feature inquiry stage",
		"Does it have a reporting feature": "Feature inquiry stage",
		"I'm looking for a solution":       "Qualification stage",
		"We need better onboarding":        "Qualification stage",
		"Yes, let's schedule":              "Meeting booking stage",
		"sounds good":                      "Meeting booking stage",
		"hello":                            InitialStage,
		"":                                 InitialStage,
	}
	for msg, want := range cases {
		assert.Equal(t, want, ClassifyStage(msg), msg)
	}
}

func TestBuild_RendersRulesInOrder(t *testing.T) {
	b := NewPromptBuilder(SalesTemplate)
	out := b.Build(PromptInput{
		Stage:   "Price inquiry stage",
		Summary: "Asked about pricing",
		Hard: []chat.Guideline{
			{ID: "h1", Content: "Never quote a price"},
			{ID: "h2", Content: "Offer a call"},
		},
		Soft: []chat.Guideline{{ID: "s1", Content: "Be warm"}},
	})

	assert.True(t, strings.HasPrefix(out, "You are Uptail's Sales Agent."))
	assert.Contains(t, out, "CONTEXT\n- Stage: Price inquiry stage\n- Session summary: Asked about pricing")
	assert.Contains(t, out, "HARD RULES (must follow):\n• Never quote a price (id:h1)\n• Offer a call (id:h2)\n\nSOFT TACTICS")
	assert.Contains(t, out, "SOFT TACTICS (try to follow):\n• Be warm (id:s1)\n\nSTYLE:")
	assert.Contains(t, out, "- Keep messages < 120 words.")
	assert.True(t, strings.HasSuffix(out, "then move forward to the next step."))
}

func TestBuild_EmptyBlocksAndFallbackSummary(t *testing.T) {
	out := NewPromptBuilder(SalesTemplate).Build(PromptInput{Stage: InitialStage})

	assert.Contains(t, out, "- Session summary: No previous conversation")
	assert.Contains(t, out, "HARD RULES (must follow):\n\n\nSOFT TACTICS (try to follow):\n\n\nSTYLE:")
	assert.NotContains(t, out, "•")
}

func TestBuild_Pure(t *testing.T) {
	in := PromptInput{Stage: "Qualification stage", Summary: "s", Hard: []chat.Guideline{{ID: "a", Content: "b"}}}
	b := NewPromptBuilder(SalesTemplate)
	assert.Equal(t, b.Build(in), b.Build(in))
}

func TestSections(t *testing.T) {
	p := NewPromptBuilder(PromptTemplate{Preamble: []string{"intro"}}).Sections(PromptInput{})
	assert.Len(t, p, 4, "style and closing are omitted when the template has none")
	assert.Equal(t, "intro\n\nCONTEXT\n- Stage: Initial conversation stage\n- Session summary: No previous conversation\n\nHARD RULES (must follow):\n\n\nSOFT TACTICS (try to follow):\n", p.String())
}
