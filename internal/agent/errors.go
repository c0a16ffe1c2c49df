package agent

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage       = errors.New("message is required")
	ErrSessionUnavailable = errors.New("failed to resolve session")
	ErrContextUnavailable = errors.New("failed to gather conversation context")
	ErrGuidelineSelection = errors.New("failed to get applicable guidelines")
	ErrSummaryGeneration  = errors.New("failed to generate summary")
)

type Stage string

const (
	StageSessionResolved           Stage = "session_resolved"
	StageUserMessagePersisted      Stage = "user_message_persisted"
	StageContextGathered           Stage = "context_gathered"
	StageGuidelinesSelected        Stage = "guidelines_selected"
	StagePromptBuilt               Stage = "prompt_built"
	StageModelInvoked              Stage = "model_invoked"
	StageAssistantMessagePersisted Stage = "assistant_message_persisted"
	StageUsageRecorded             Stage = "usage_recorded"
	StageSummaryRefreshed          Stage = "summary_refreshed"
)

// PipelineError is the single error a failed turn returns. Stage names the
// step that did not complete.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("sales agent pipeline failed: %v", e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
