package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/uptail/sales-agent/internal/agent"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/store/rabbitmq"
	"go.uber.org/zap"
)

const maxIdempotencyKey = 128

var ErrIdempotencyKeyTooLong = errors.New("idempotency key too long")

type Store interface {
	CreateJobOrGetExisting(ctx context.Context, job *chat.Job) (*chat.Job, bool, error)
	GetJobByID(ctx context.Context, id string) (*chat.Job, error)
	UpdateJobStatusRunning(ctx context.Context, id string) (bool, error)
	MarkJobSucceeded(ctx context.Context, id string, result []byte) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
}

type Publisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// Runner executes turns; *agent.Pipeline satisfies it.
type Runner interface {
	ResolveSession(ctx context.Context, id string) (string, error)
	Respond(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
}

// Service creates turn jobs on the API side and executes them on the worker side.
type Service struct {
	store     Store
	publisher Publisher
	runner    Runner
	log       *zap.Logger
}

func NewService(store Store, publisher Publisher, runner Runner, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, publisher: publisher, runner: runner, log: log}
}

// Submit resolves the session, stores a queued job and publishes it. With an
// idempotency key an existing job is returned as is and not republished.
func (s *Service) Submit(ctx context.Context, req agent.TurnRequest, idempotencyKey string) (*chat.Job, bool, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, false, agent.ErrEmptyMessage
	}
	key := strings.TrimSpace(idempotencyKey)
	if len(key) > maxIdempotencyKey {
		return nil, false, ErrIdempotencyKeyTooLong
	}

	sessionID, err := s.runner.ResolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, false, err
	}

	j := &chat.Job{
		ID:        chat.NewID(),
		SessionID: sessionID,
		Message:   req.Message,
		Status:    chat.JobQueued,
	}
	if key != "" {
		j.IdempotencyKey = &key
	}
	j, created, err := s.store.CreateJobOrGetExisting(ctx, j)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := s.publisher.PublishJob(ctx, j.ID); err != nil {
			_ = s.store.MarkJobFailed(ctx, j.ID, "enqueue failed: "+err.Error())
			return nil, false, err
		}
	}
	return j, created, nil
}

func (s *Service) Get(ctx context.Context, id string) (*chat.Job, error) {
	return s.store.GetJobByID(ctx, id)
}

// Handle runs one queued job. A failed turn is recorded on the job and is not
// an error; only storage problems are returned, marked retryable. A job that
// is already running is never run again.
func (s *Service) Handle(ctx context.Context, msg rabbitmq.JobMessage) error {
	log := s.log.With(zap.String("job_id", msg.JobID))

	j, err := s.store.GetJobByID(ctx, msg.JobID)
	if err != nil {
		if chat.IsNotFound(err) {
			log.Warn("job not found, dropping")
			return nil
		}
		return rabbitmq.Retryable(err)
	}
	if j.Status == chat.JobSucceeded || j.Status == chat.JobFailed {
		log.Debug("job already finished", zap.String("status", string(j.Status)))
		return nil
	}
	claimed, err := s.store.UpdateJobStatusRunning(ctx, j.ID)
	if err != nil {
		return rabbitmq.Retryable(err)
	}
	if !claimed {
		// running elsewhere, or interrupted mid-turn; replaying would
		// persist the user message twice
		log.Warn("job not claimed, skipping", zap.String("status", string(j.Status)))
		return nil
	}

	res, err := s.runner.Respond(ctx, agent.TurnRequest{SessionID: j.SessionID, Message: j.Message})
	// the outcome is recorded even when ctx was cancelled mid-turn
	record := context.WithoutCancel(ctx)
	if err != nil {
		if mErr := s.store.MarkJobFailed(record, j.ID, err.Error()); mErr != nil {
			return rabbitmq.Retryable(mErr)
		}
		log.Warn("turn failed", zap.Error(err))
		return nil
	}

	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := s.store.MarkJobSucceeded(record, j.ID, body); err != nil {
		return rabbitmq.Retryable(err)
	}
	return nil
}
