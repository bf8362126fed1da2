package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueDocuments carries document renders.
	QueueDocuments = "documents"

	// TaskDocumentRender renders and caches the PDF of one booking.
	TaskDocumentRender = "document:render"
	// TaskIdempotencyCleanup purges expired intake Idempotency-Key records.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// DocumentRenderPayload identifies the booking to render.
type DocumentRenderPayload struct {
	BookingID   uuid.UUID `json:"booking_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewDocumentRenderTask constructs an Asynq task for a booking render.
func NewDocumentRenderTask(bookingID uuid.UUID, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(DocumentRenderPayload{BookingID: bookingID, RequestedAt: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDocumentRender, body, asynq.Queue(QueueDocuments), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
