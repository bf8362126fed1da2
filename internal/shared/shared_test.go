package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MithilHassan/kbt-express/internal/platform/httpx"
)

type recordingExecer struct {
	sql  []string
	args [][]any
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, args)
	return pgconn.CommandTag{}, r.err
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 45, TotalPages: 3}, p)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 1000, 500)
	assert.Equal(t, MaxPerPage, p.PerPage)
	assert.Equal(t, 400, p.Offset())
}

func TestIdempotencyConflictMapsUniqueViolation(t *testing.T) {
	db := &recordingExecer{err: &pgconn.PgError{Code: "23505"}}
	err := NewIdempotencyStore(db).CheckAndInsert(context.Background(), "abc", "booking.create")
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestIdempotencyPassesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	db := &recordingExecer{err: boom}
	err := NewIdempotencyStore(db).CheckAndInsert(context.Background(), "abc", "booking.create")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrIdempotencyConflict)
}

func TestIdempotencyRequiresKey(t *testing.T) {
	db := &recordingExecer{}
	assert.Error(t, NewIdempotencyStore(db).CheckAndInsert(context.Background(), "", "booking.create"))
	assert.Empty(t, db.sql)
}

func TestAuditLoggerDefaultsActor(t *testing.T) {
	db := &recordingExecer{}
	err := NewAuditLogger(db).Record(context.Background(), AuditLog{
		Action: "booking.delete", Entity: "booking", EntityID: "42",
	})
	require.NoError(t, err)
	require.Len(t, db.args, 1)
	assert.Equal(t, "System", db.args[0][0])
}

func TestAuditLoggerValidates(t *testing.T) {
	err := NewAuditLogger(&recordingExecer{}).Record(context.Background(), AuditLog{Action: "x"})
	assert.Error(t, err)
}

func TestDocumentLockKey(t *testing.T) {
	assert.Equal(t, "document:abc:lock", DocumentLockKey("abc"))
}

func TestActorFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, DefaultActor, ActorFromContext(ctx))
	assert.Equal(t, DefaultActor, ActorFromContext(ContextWithActor(ctx, "  ")))
	assert.Equal(t, "ops-1", ActorFromContext(ContextWithActor(ctx, " ops-1 ")))
}
