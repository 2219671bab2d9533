// Package storetest provides a real SQLite-backed row store, a filesystem
// blob store and fault-injecting decorators for tests.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/storyloom/core/internal/database"
	"github.com/storyloom/core/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQL opens a migrated SQLite database under t.TempDir.
func NewSQL(t *testing.T) *store.SQL {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.NewSQL(db)
}

// NewLocal opens a filesystem blob store under t.TempDir.
func NewLocal(t *testing.T) *store.Local {
	t.Helper()
	l, err := store.NewLocal(filepath.Join(t.TempDir(), "blobs"), "http://blobs.test", "test-secret")
	require.NoError(t, err)
	return l
}

// Call is one recorded write against a Rows or Blobs decorator.
type Call struct {
	Op    string
	Table string
}

// Rows decorates a store.Rows, recording writes and failing chosen ones.
// Rows handed to a Transaction callback share the same recording and faults.
type Rows struct {
	store.Rows
	*faults
}

type faults struct {
	mu          sync.Mutex
	calls       []Call
	failDelete  map[string]error
	failSelect  map[string]error
	failInsert  map[string]error
	beforeQuery func(table string)
}

func WrapRows(inner store.Rows) *Rows {
	return &Rows{
		Rows: inner,
		faults: &faults{
			failDelete: map[string]error{},
			failSelect: map[string]error{},
			failInsert: map[string]error{},
		},
	}
}

// FailInsert makes every Insert into table return err. A nil err clears it.
func (r *Rows) FailInsert(table string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failInsert, table)
		return
	}
	r.failInsert[table] = err
}

// FailDelete makes every Delete against table return err.
func (r *Rows) FailDelete(table string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failDelete[table] = err
}

// FailSelect makes every Select and Pluck against table return err.
func (r *Rows) FailSelect(table string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSelect[table] = err
}

// BeforeQuery registers a hook run before every Select.
func (r *Rows) BeforeQuery(fn func(table string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeQuery = fn
}

// Calls returns the recorded writes in order.
func (r *Rows) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Writes returns the tables written by op ("delete", "update", "insert").
func (r *Rows) Writes(op string) []string {
	var out []string
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c.Table)
		}
	}
	return out
}

func (r *Rows) record(op, table string) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: op, Table: table})
	r.mu.Unlock()
}

func (r *Rows) selectErr(table string) (error, func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failSelect[table], r.beforeQuery
}

func (r *Rows) Select(ctx context.Context, table string, f store.Filter, dest any, opts ...store.QueryOption) error {
	err, hook := r.selectErr(table)
	if hook != nil {
		hook(table)
	}
	if err != nil {
		return err
	}
	return r.Rows.Select(ctx, table, f, dest, opts...)
}

func (r *Rows) Pluck(ctx context.Context, table, column string, f store.Filter) ([]string, error) {
	if err, _ := r.selectErr(table); err != nil {
		return nil, err
	}
	return r.Rows.Pluck(ctx, table, column, f)
}

func (r *Rows) Insert(ctx context.Context, table string, value any) error {
	r.record("insert", table)
	r.mu.Lock()
	err := r.failInsert[table]
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Rows.Insert(ctx, table, value)
}

func (r *Rows) Transaction(ctx context.Context, fn func(tx store.Rows) error) error {
	r.record("begin", "")
	return r.Rows.Transaction(ctx, func(tx store.Rows) error {
		return fn(&Rows{Rows: tx, faults: r.faults})
	})
}

func (r *Rows) Update(ctx context.Context, table string, f store.Filter, patch map[string]any) (int64, error) {
	r.record("update", table)
	return r.Rows.Update(ctx, table, f, patch)
}

func (r *Rows) Delete(ctx context.Context, table string, f store.Filter) (int64, error) {
	r.record("delete", table)
	r.mu.Lock()
	err := r.failDelete[table]
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.Rows.Delete(ctx, table, f)
}

// Blobs decorates a store.Blobs, recording removals and failing buckets.
type Blobs struct {
	store.Blobs

	mu         sync.Mutex
	removed    map[string][]string
	failRemove map[string]error
	failUpload error
}

func WrapBlobs(inner store.Blobs) *Blobs {
	return &Blobs{Blobs: inner, removed: map[string][]string{}, failRemove: map[string]error{}}
}

// FailRemove makes Remove on bucket return err.
func (b *Blobs) FailRemove(bucket string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRemove[bucket] = err
}

// FailUpload makes every Upload return err.
func (b *Blobs) FailUpload(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failUpload = err
}

// Removed returns the paths passed to Remove for bucket.
func (b *Blobs) Removed(bucket string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.removed[bucket]...)
}

func (b *Blobs) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	b.mu.Lock()
	err := b.failUpload
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.Blobs.Upload(ctx, bucket, path, data, contentType)
}

func (b *Blobs) Remove(ctx context.Context, bucket string, paths []string) error {
	b.mu.Lock()
	b.removed[bucket] = append(b.removed[bucket], paths...)
	err := b.failRemove[bucket]
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.Blobs.Remove(ctx, bucket, paths)
}

// Exists reports whether a blob can be downloaded.
func Exists(t *testing.T, blobs store.Blobs, bucket, path string) bool {
	t.Helper()
	_, err := blobs.Download(context.Background(), bucket, path)
	return err == nil
}
