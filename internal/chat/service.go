package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidRole = errors.New("invalid role: must be either \"user\" or \"assistant\"")

// Service is the read/administration surface over sessions, messages,
// guidelines and usage records. The turn pipeline lives in package agent.
type Service struct {
	repo     *Repo
	validate *validator.Validate
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo, validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (s *Service) Repo() *Repo { return s.repo }

func (s *Service) CreateSession(ctx context.Context) (*Session, error) {
	return s.repo.CreateSession(ctx)
}

func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.repo.GetSession(ctx, id)
}

func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	return s.repo.ListSessions(ctx)
}

func (s *Service) DeleteSession(ctx context.Context, id string) (*Session, error) {
	return s.repo.DeleteSession(ctx, id)
}

func (s *Service) DeleteSessions(ctx context.Context, ids []string) (int64, error) {
	return s.repo.DeleteSessions(ctx, ids)
}

func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	return s.repo.Statistics(ctx)
}

func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return s.repo.ListMessagesBySession(ctx, sessionID)
}

// AppendMessage stores a message outside the turn pipeline (manual transcripts, imports).
func (s *Service) AppendMessage(ctx context.Context, sessionID string, role Role, content string) (*Message, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	m := &Message{SessionID: sessionID, Role: role, Content: content}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ListGuidelines(ctx context.Context) ([]Guideline, error) {
	return s.repo.ListGuidelines(ctx)
}

func (s *Service) GetGuideline(ctx context.Context, id string) (*Guideline, error) {
	return s.repo.GetGuideline(ctx, id)
}

func (s *Service) SearchGuidelines(ctx context.Context, q GuidelineQuery) ([]Guideline, error) {
	return s.repo.SearchGuidelines(ctx, q)
}

// ValidateGuideline normalizes triggers to lowercase and checks the struct tags.
func (s *Service) ValidateGuideline(g *Guideline) error {
	triggers := make([]string, 0, len(g.Triggers))
	for _, t := range g.Triggers {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			triggers = append(triggers, t)
		}
	}
	g.Triggers = triggers
	if err := s.validate.Struct(g); err != nil {
		return fmt.Errorf("invalid guideline: %w", err)
	}
	return nil
}

func (s *Service) CreateGuideline(ctx context.Context, g *Guideline) error {
	if err := s.ValidateGuideline(g); err != nil {
		return err
	}
	return s.repo.CreateGuideline(ctx, g)
}

func (s *Service) ListUsageBySession(ctx context.Context, sessionID string) ([]GuidelineUsage, error) {
	return s.repo.ListUsageBySession(ctx, sessionID)
}

func (s *Service) ListUsageByMessage(ctx context.Context, messageID string) ([]GuidelineUsage, error) {
	return s.repo.ListUsageByMessage(ctx, messageID)
}

func (s *Service) GetUsage(ctx context.Context, id string) (*GuidelineUsage, error) {
	return s.repo.GetUsage(ctx, id)
}

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}
