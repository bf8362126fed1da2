package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: QueueDocuments}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientEnqueueDocument(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)
	id := uuid.New()

	taskID, err := client.EnqueueDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskDocumentRender, enq.tasks[0].Type())

	var payload DocumentRenderPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, id, payload.BookingID)
}

func TestClientEnqueueDocumentCollapsesDuplicates(t *testing.T) {
	id := uuid.New()
	client := NewClientWith(&fakeEnqueuer{err: asynq.ErrTaskIDConflict})

	taskID, err := client.EnqueueDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "document:"+id.String(), taskID)
}

func TestClientEnqueueDocumentError(t *testing.T) {
	client := NewClientWith(&fakeEnqueuer{err: errors.New("redis down")})
	_, err := client.EnqueueDocument(context.Background(), uuid.New())
	assert.Error(t, err)
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f *fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(inspector, discardLogger()).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec
}

func TestHandlerHealthReportsQueues(t *testing.T) {
	rec := serveHealth(t, &fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueDocuments: {Queue: QueueDocuments, Pending: 3, Retry: 1},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, QueueDocuments, body.Queues[0].Queue)
	assert.Equal(t, 3, body.Queues[0].Pending)
	assert.Equal(t, 1, body.Queues[0].Retry)
	assert.True(t, body.Queues[1].Available)
	assert.Zero(t, body.Queues[1].Pending)
}

func TestHandlerHealthUnavailable(t *testing.T) {
	rec := serveHealth(t, &fakeInspector{err: errors.New("dial tcp: refused")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerHealthWithoutInspector(t *testing.T) {
	rec := serveHealth(t, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
