package tx

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	dErrors "trustdesk/pkg/domain-errors"
)

// Runner runs fn as one serialized unit for key. Stores called with the
// context passed to fn take part in the unit.
type Runner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// DefaultTimeout bounds a unit when the caller set no deadline.
const DefaultTimeout = 5 * time.Second

// numShards spreads keys over independent locks so unrelated decisions do not
// contend.
const numShards = 128

// Sharded serializes units per key with a fixed set of mutexes. It is the
// in-memory counterpart of a database transaction; there is no rollback, so
// fn must validate before it mutates.
type Sharded struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewSharded() *Sharded {
	return &Sharded{timeout: DefaultTimeout}
}

func (t *Sharded) RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	ctx, cancel := withDefaultTimeout(ctx, t.timeout)
	defer cancel()

	shard := &t.shards[shardFor(key)]
	shard.Lock()
	defer shard.Unlock()

	// the wait for the lock may have outlived the deadline
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % numShards
}

// Postgres runs each unit in a SQL transaction carried in the context. Rows
// that must not change concurrently are locked by the stores with
// SELECT ... FOR UPDATE. A unit started inside another one joins it.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, timeout: DefaultTimeout}
}

func (t *Postgres) RunInTx(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	ctx, cancel := withDefaultTimeout(ctx, t.timeout)
	defer cancel()

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
