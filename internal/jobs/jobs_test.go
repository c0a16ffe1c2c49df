package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptail/sales-agent/internal/agent"
	"github.com/uptail/sales-agent/internal/ai"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/store/rabbitmq"
	"github.com/uptail/sales-agent/internal/testutil"
)

type recordingPublisher struct {
	ids []string
	err error
}

func (p *recordingPublisher) PublishJob(_ context.Context, id string) error {
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, id)
	return nil
}

func setup(t *testing.T, model *testutil.FakeProvider) (*Service, *chat.Repo, *recordingPublisher) {
	t.Helper()
	repo := chat.NewRepo(testutil.OpenDB(t))
	pub := &recordingPublisher{}
	return NewService(repo, pub, agent.NewPipeline(repo, model), nil), repo, pub
}

func TestSubmit_CreatesSessionAndPublishes(t *testing.T) {
	svc, repo, pub := setup(t, &testutil.FakeProvider{})
	ctx := context.Background()

	j, created, err := svc.Submit(ctx, agent.TurnRequest{Message: "hola"}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, chat.JobQueued, j.Status)
	assert.Equal(t, []string{j.ID}, pub.ids)

	_, err = repo.GetSession(ctx, j.SessionID)
	assert.NoError(t, err)
}

func TestSubmit_Idempotent(t *testing.T) {
	svc, _, pub := setup(t, &testutil.FakeProvider{})
	ctx := context.Background()

	first, created, err := svc.Submit(ctx, agent.TurnRequest{Message: "hola"}, "key-1")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := svc.Submit(ctx, agent.TurnRequest{Message: "hola"}, "key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, pub.ids, 1, "existing jobs are not republished")
}

func TestSubmit_Validation(t *testing.T) {
	svc, _, _ := setup(t, &testutil.FakeProvider{})
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, agent.TurnRequest{Message: " "}, "")
	assert.ErrorIs(t, err, agent.ErrEmptyMessage)

	_, _, err = svc.Submit(ctx, agent.TurnRequest{Message: "x"}, strings.Repeat("k", 129))
	assert.ErrorIs(t, err, ErrIdempotencyKeyTooLong)
}

func TestSubmit_PublishFailureMarksJobFailed(t *testing.T) {
	svc, repo, pub := setup(t, &testutil.FakeProvider{})
	pub.err = errors.New("broker down")

	_, _, err := svc.Submit(context.Background(), agent.TurnRequest{Message: "x"}, "key-2")
	require.Error(t, err)

	j, err := repo.GetJobByIdempotencyKey(context.Background(), "key-2")
	require.NoError(t, err)
	assert.Equal(t, chat.JobFailed, j.Status)
}

func TestHandle_Succeeds(t *testing.T) {
	svc, repo, _ := setup(t, &testutil.FakeProvider{Respond: func(ai.ChatRequest) (string, error) { return "reply", nil }})
	ctx := context.Background()

	j, _, err := svc.Submit(ctx, agent.TurnRequest{Message: "hola"}, "")
	require.NoError(t, err)
	require.NoError(t, svc.Handle(ctx, rabbitmq.JobMessage{JobID: j.ID}))

	got, err := repo.GetJobByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobSucceeded, got.Status)

	var res agent.TurnResult
	require.NoError(t, json.Unmarshal([]byte(got.Result), &res))
	assert.Equal(t, j.SessionID, res.SessionID)
	assert.Equal(t, "reply", res.Reply)

	// redelivery of a finished job is a no-op
	require.NoError(t, svc.Handle(ctx, rabbitmq.JobMessage{JobID: j.ID}))
	msgs, err := repo.ListMessagesBySession(ctx, j.SessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestHandle_TurnFailureRecorded(t *testing.T) {
	svc, repo, _ := setup(t, &testutil.FakeProvider{Respond: func(ai.ChatRequest) (string, error) {
		return "", &ai.CallError{Provider: "openai", Status: 503, Message: "overloaded"}
	}})
	ctx := context.Background()

	j, _, err := svc.Submit(ctx, agent.TurnRequest{Message: "hola"}, "")
	require.NoError(t, err)
	require.NoError(t, svc.Handle(ctx, rabbitmq.JobMessage{JobID: j.ID}))

	got, err := repo.GetJobByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "sales agent pipeline failed: openai: status 503: overloaded", *got.Error)
}

func TestHandle_UnknownJobDropped(t *testing.T) {
	svc, _, _ := setup(t, &testutil.FakeProvider{})
	assert.NoError(t, svc.Handle(context.Background(), rabbitmq.JobMessage{JobID: "missing"}))
}

func TestHandle_CancelledMidTurnIsRecordedAndNotReplayed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, repo, _ := setup(t, &testutil.FakeProvider{Respond: func(ai.ChatRequest) (string, error) {
		cancel()
		return "", context.Canceled
	}})

	j, _, err := svc.Submit(ctx, agent.TurnRequest{Message: "hola"}, "")
	require.NoError(t, err)
	require.NoError(t, svc.Handle(ctx, rabbitmq.JobMessage{JobID: j.ID}))

	fresh := context.Background()
	got, err := repo.GetJobByID(fresh, j.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobFailed, got.Status)

	require.NoError(t, svc.Handle(fresh, rabbitmq.JobMessage{JobID: j.ID}))
	msgs, err := repo.ListMessagesBySession(fresh, j.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
}

func TestHandle_RunningJobIsNotRunAgain(t *testing.T) {
	model := &testutil.FakeProvider{}
	svc, repo, _ := setup(t, model)
	ctx := context.Background()

	j, _, err := svc.Submit(ctx, agent.TurnRequest{Message: "hola"}, "")
	require.NoError(t, err)
	claimed, err := repo.UpdateJobStatusRunning(ctx, j.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, svc.Handle(ctx, rabbitmq.JobMessage{JobID: j.ID}))
	assert.Empty(t, model.Calls())

	msgs, err := repo.ListMessagesBySession(ctx, j.SessionID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	got, err := repo.GetJobByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.JobRunning, got.Status)
}
