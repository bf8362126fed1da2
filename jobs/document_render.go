package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/MithilHassan/kbt-express/internal/booking"
	jobmetrics "github.com/MithilHassan/kbt-express/internal/jobs"
	"github.com/MithilHassan/kbt-express/internal/render"
	"github.com/MithilHassan/kbt-express/internal/shared"
)

// DefaultLockTTL bounds how long one worker holds a booking render.
const DefaultLockTTL = 2 * time.Minute

// ErrRenderInProgress is returned when another worker holds the booking lock;
// asynq retries the task later.
var ErrRenderInProgress = errors.New("document render already in progress")

// DocumentGenerator renders and caches booking documents.
type DocumentGenerator interface {
	Generate(ctx context.Context, id uuid.UUID) (render.File, error)
}

// DocumentRenderJob warms the document cache outside the request path.
type DocumentRenderJob struct {
	Generator DocumentGenerator
	Locks     redis.Cmdable
	LockTTL   time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewDocumentRenderJob wires dependencies for the render handler. locks may be
// nil, in which case concurrent renders of one booking are not serialised
// across workers.
func NewDocumentRenderJob(generator DocumentGenerator, locks redis.Cmdable, logger *slog.Logger, metrics *jobmetrics.Metrics) *DocumentRenderJob {
	return &DocumentRenderJob{
		Generator: generator,
		Locks:     locks,
		LockTTL:   DefaultLockTTL,
		Logger:    logger,
		Metrics:   metrics,
	}
}

// Handle processes TaskDocumentRender tasks.
func (j *DocumentRenderJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Generator == nil {
		return errors.New("document render: handler not configured")
	}
	var payload DocumentRenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.BookingID == uuid.Nil {
		return fmt.Errorf("booking id missing: %w", asynq.SkipRetry)
	}

	logger := j.logger().With(slog.String("booking_id", payload.BookingID.String()))

	release, err := j.lock(ctx, payload.BookingID)
	if errors.Is(err, ErrRenderInProgress) {
		logger.Debug("render lock held, retrying later")
		return err
	}

	tracker := j.Metrics.Track(TaskDocumentRender)
	defer func() { err = tracker.End(err) }()

	if err != nil {
		return err
	}
	defer release()

	file, err := j.Generator.Generate(ctx, payload.BookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			logger.Warn("booking vanished before render")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("render document", slog.Any("error", err))
		return err
	}
	logger.Info("document cached",
		slog.String("file", file.Name),
		slog.Int("bytes", len(file.Data)),
		slog.Duration("queued_for", time.Since(payload.RequestedAt)))
	return nil
}

func (j *DocumentRenderJob) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	if j.Locks == nil {
		return func() {}, nil
	}
	key := shared.DocumentLockKey(id.String())
	token := uuid.NewString()
	ttl := j.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	ok, err := j.Locks.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire render lock: %w", err)
	}
	if !ok {
		return nil, ErrRenderInProgress
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, j.Locks, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			j.logger().Warn("release render lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (j *DocumentRenderJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDocumentRender))
	}
	return slog.Default().With(slog.String("job", TaskDocumentRender))
}
