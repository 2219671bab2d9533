// Package store is the data access layer: a generic relational row store
// and a blob store with signed URLs. Every component reaches persistence
// through these two interfaces.
package store

import (
	"context"
	"errors"
)

var (
	// ErrUnfilteredWrite guards Update and Delete against whole-table writes.
	ErrUnfilteredWrite = errors.New("store: update or delete requires a filter")
	// ErrUnknownTable is returned for a table without a registered model.
	ErrUnknownTable = errors.New("store: unknown table")
)

// Op is a comparison operator of a filter condition.
type Op int

const (
	OpEq Op = iota
	OpIn
	OpIsNull
	OpNotNull
)

// Cond is one column condition.
type Cond struct {
	Column string
	Op     Op
	Values []any
}

// Filter is a conjunction of conditions.
type Filter []Cond

// Eq matches rows whose column equals v.
func Eq(column string, v any) Cond {
	return Cond{Column: column, Op: OpEq, Values: []any{v}}
}

// In matches rows whose column is one of values. An empty list matches no row.
func In(column string, values []string) Cond {
	vals := make([]any, 0, len(values))
	for _, v := range values {
		vals = append(vals, v)
	}
	return Cond{Column: column, Op: OpIn, Values: vals}
}

// IsNull matches rows whose column is NULL.
func IsNull(column string) Cond {
	return Cond{Column: column, Op: OpIsNull}
}

// NotNull matches rows whose column is not NULL.
func NotNull(column string) Cond {
	return Cond{Column: column, Op: OpNotNull}
}

// Where builds a filter from conditions.
func Where(conds ...Cond) Filter {
	return Filter(conds)
}

// Empty reports whether the filter can match no row at all, which is the
// case when any IN condition has an empty value list.
func (f Filter) Empty() bool {
	for _, c := range f {
		if c.Op == OpIn && len(c.Values) == 0 {
			return true
		}
	}
	return false
}

// Query tunes a Select.
type Query struct {
	OrderBy string
	Desc    bool
	Limit   int
}

// QueryOption mutates a Query.
type QueryOption func(*Query)

// OrderBy sorts ascending by column.
func OrderBy(column string) QueryOption {
	return func(q *Query) { q.OrderBy, q.Desc = column, false }
}

// OrderByDesc sorts descending by column.
func OrderByDesc(column string) QueryOption {
	return func(q *Query) { q.OrderBy, q.Desc = column, true }
}

// Limit caps the number of returned rows.
func Limit(n int) QueryOption {
	return func(q *Query) { q.Limit = n }
}

// BuildQuery applies opts to a zero Query.
func BuildQuery(opts ...QueryOption) Query {
	var q Query
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// Rows is the generic relational store. Tables are addressed by name; rows
// are decoded into model slices. No implicit soft-delete scoping is applied:
// callers filter tombstones explicitly.
type Rows interface {
	// Select loads matching rows into dest, a pointer to a model slice.
	Select(ctx context.Context, table string, f Filter, dest any, opts ...QueryOption) error
	// Pluck returns the non-null values of one column for matching rows.
	Pluck(ctx context.Context, table, column string, f Filter) ([]string, error)
	// Insert creates one row from a model pointer.
	Insert(ctx context.Context, table string, value any) error
	// Update patches matching rows and returns how many changed.
	Update(ctx context.Context, table string, f Filter, patch map[string]any) (int64, error)
	// Delete removes matching rows and returns how many were removed.
	Delete(ctx context.Context, table string, f Filter) (int64, error)
	// Transaction runs fn against a Rows bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Rows) error) error
}
