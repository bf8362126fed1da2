package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MithilHassan/kbt-express/jobs"
)

type stubDocuments struct {
	ids []uuid.UUID
	err error
}

func (s *stubDocuments) EnqueueDocument(_ context.Context, id uuid.UUID) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.ids = append(s.ids, id)
	return "document:" + id.String(), nil
}

type stubTasks struct {
	tasks []*asynq.Task
}

func (s *stubTasks) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "cleanup-1"}, nil
}

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestRenderCommandEnqueuesEveryBooking(t *testing.T) {
	docs := &stubDocuments{}
	cli := NewJobsCLI(docs, nil, nil)
	first, second := uuid.New(), uuid.New()

	var stdout, stderr bytes.Buffer
	code := cli.RenderCommand(context.Background(), []string{first.String(), second.String()}, Output{Stdout: &stdout, Stderr: &stderr})

	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, []uuid.UUID{first, second}, docs.ids)
	assert.Contains(t, stdout.String(), "document:"+second.String())
}

func TestRenderCommandRejectsInvalidIDsBeforeEnqueue(t *testing.T) {
	docs := &stubDocuments{}
	cli := NewJobsCLI(docs, nil, nil)

	var stderr bytes.Buffer
	code := cli.RenderCommand(context.Background(), []string{uuid.NewString(), "101000001"}, Output{Stdout: &bytes.Buffer{}, Stderr: &stderr})

	assert.Equal(t, 1, code)
	assert.Empty(t, docs.ids)
	assert.Contains(t, stderr.String(), `invalid booking id "101000001"`)
}

func TestRenderCommandFailures(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, NewJobsCLI(nil, nil, nil).RenderCommand(context.Background(), []string{uuid.NewString()}, Output{Stderr: &stderr}))
	assert.Contains(t, stderr.String(), "queue not configured")

	stderr.Reset()
	cli := NewJobsCLI(&stubDocuments{err: errors.New("redis down")}, nil, nil)
	assert.Equal(t, 1, cli.RenderCommand(context.Background(), []string{uuid.NewString()}, Output{Stdout: &bytes.Buffer{}, Stderr: &stderr}))
	assert.Contains(t, stderr.String(), "redis down")

	stderr.Reset()
	assert.Equal(t, 1, cli.RenderCommand(context.Background(), nil, Output{Stderr: &stderr}))
}

func TestCleanupCommandDefaultsRetention(t *testing.T) {
	tasks := &stubTasks{}
	cli := NewJobsCLI(nil, tasks, nil)

	var stdout bytes.Buffer
	code := cli.CleanupCommand(context.Background(), 0, Output{Stdout: &stdout, Stderr: &bytes.Buffer{}})

	require.Equal(t, 0, code)
	require.Len(t, tasks.tasks, 1)
	assert.Equal(t, jobs.TaskIdempotencyCleanup, tasks.tasks[0].Type())
	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(tasks.tasks[0].Payload(), &payload))
	assert.Equal(t, jobs.DefaultIdempotencyRetention, payload.Retention)
	assert.Equal(t, "cleanup-1\n", stdout.String())
}

func TestInspectCommandJSON(t *testing.T) {
	cli := NewJobsCLI(nil, nil, stubInspector{
		jobs.QueueDocuments: {Pending: 3, Active: 1, Retry: 2},
	})

	var stdout bytes.Buffer
	code := cli.InspectCommand(Output{JSONOutput: true, Stdout: &stdout, Stderr: &bytes.Buffer{}})
	require.Equal(t, 0, code)

	var stats []QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, QueueStats{Queue: jobs.QueueDocuments, Pending: 3, Active: 1, Retry: 2}, stats[0])
	assert.Equal(t, QueueStats{Queue: jobs.QueueDefault}, stats[1])
}

func TestInspectCommandTable(t *testing.T) {
	cli := NewJobsCLI(nil, nil, stubInspector{})

	var stdout bytes.Buffer
	require.Equal(t, 0, cli.InspectCommand(Output{Stdout: &stdout, Stderr: &bytes.Buffer{}}))
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "QUEUE"))
	assert.True(t, strings.HasPrefix(lines[1], jobs.QueueDocuments))
}

func TestInspectCommandWithoutInspector(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, NewJobsCLI(nil, nil, nil).InspectCommand(Output{Stderr: &stderr}))
	assert.Contains(t, stderr.String(), "inspector not configured")
}

func TestHashTokenCommand(t *testing.T) {
	hash := func(token string) (string, error) {
		out, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
		return string(out), err
	}

	var stdout, stderr bytes.Buffer
	code := HashTokenCommand(hash, HashTokenOptions{
		Stdin:  strings.NewReader("  operator-secret-token-1\n"),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	hashed := strings.TrimSpace(stdout.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashed), []byte("operator-secret-token-1")))

	stderr.Reset()
	code = HashTokenCommand(hash, HashTokenOptions{Token: "short", Stdout: &bytes.Buffer{}, Stderr: &stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "at least 16 characters")
}
