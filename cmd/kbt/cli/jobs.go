package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/MithilHassan/kbt-express/jobs"
)

// DocumentEnqueuer schedules background document renders.
type DocumentEnqueuer interface {
	EnqueueDocument(ctx context.Context, bookingID uuid.UUID) (string, error)
}

// TaskEnqueuer submits arbitrary tasks.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	documents DocumentEnqueuer
	tasks     TaskEnqueuer
	inspector jobs.QueueInspector
}

// NewJobsCLI wires the helpers. Any collaborator may be nil; commands that
// need a missing one fail with exit code 1.
func NewJobsCLI(documents DocumentEnqueuer, tasks TaskEnqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{documents: documents, tasks: tasks, inspector: inspector}
}

// Output selects where commands write.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o Output) withDefaults() Output {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

// RenderCommand enqueues document renders for the given booking ids.
func (c *JobsCLI) RenderCommand(ctx context.Context, bookingIDs []string, out Output) int {
	out = out.withDefaults()
	if c.documents == nil {
		_, _ = fmt.Fprintln(out.Stderr, "jobs render: queue not configured")
		return 1
	}
	if len(bookingIDs) == 0 {
		_, _ = fmt.Fprintln(out.Stderr, "jobs render: at least one booking id is required")
		return 1
	}
	ids := make([]uuid.UUID, 0, len(bookingIDs))
	for _, raw := range bookingIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			_, _ = fmt.Fprintf(out.Stderr, "jobs render: invalid booking id %q\n", raw)
			return 1
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		taskID, err := c.documents.EnqueueDocument(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(out.Stderr, "jobs render: %s: %v\n", id, err)
			return 1
		}
		_, _ = fmt.Fprintf(out.Stdout, "%s\t%s\n", id, taskID)
	}
	return 0
}

// CleanupCommand enqueues an immediate Idempotency-Key purge.
func (c *JobsCLI) CleanupCommand(ctx context.Context, retention time.Duration, out Output) int {
	out = out.withDefaults()
	if c.tasks == nil {
		_, _ = fmt.Fprintln(out.Stderr, "jobs cleanup: queue not configured")
		return 1
	}
	if retention <= 0 {
		retention = jobs.DefaultIdempotencyRetention
	}
	task, err := jobs.NewIdempotencyCleanupTask(retention)
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "jobs cleanup: %v\n", err)
		return 1
	}
	info, err := c.tasks.EnqueueContext(ctx, task, asynq.MaxRetry(1))
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "jobs cleanup: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out.Stdout, info.ID)
	return 0
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueues reports the metrics of the document and default queues.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	if c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueueDocuments, jobs.QueueDefault}
	stats := make([]QueueStats, 0, len(queues))
	for _, name := range queues {
		s := QueueStats{Queue: name}
		info, err := c.inspector.GetQueueInfo(name)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}
		if info != nil {
			s.Pending = info.Pending
			s.Active = info.Active
			s.Scheduled = info.Scheduled
			s.Retry = info.Retry
			s.Archived = info.Archived
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// InspectCommand prints queue metrics.
func (c *JobsCLI) InspectCommand(out Output) int {
	out = out.withDefaults()
	stats, err := c.InspectQueues()
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "jobs inspect: %v\n", err)
		return 1
	}
	if out.JSONOutput {
		if err := json.NewEncoder(out.Stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(out.Stderr, "jobs inspect: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(out.Stdout, "%-10s %8s %8s %10s %6s %9s\n", "QUEUE", "PENDING", "ACTIVE", "SCHEDULED", "RETRY", "ARCHIVED")
	for _, s := range stats {
		_, _ = fmt.Fprintf(out.Stdout, "%-10s %8d %8d %10d %6d %9d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
	}
	return 0
}
