package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/storyloom/core/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL implements Rows over gorm.
type SQL struct {
	db *gorm.DB
}

func NewSQL(db *gorm.DB) *SQL {
	return &SQL{db: db}
}

// DB exposes the underlying connection for migrations and transactions.
func (s *SQL) DB() *gorm.DB { return s.db }

func (s *SQL) scoped(ctx context.Context, table string, f Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Unscoped().Table(table)
	for _, c := range f {
		col := clause.Column{Name: c.Column}
		switch c.Op {
		case OpEq:
			q = q.Where(clause.Eq{Column: col, Value: c.Values[0]})
		case OpIn:
			q = q.Where(clause.IN{Column: col, Values: c.Values})
		case OpIsNull:
			q = q.Where(clause.Eq{Column: col, Value: nil})
		case OpNotNull:
			q = q.Where(clause.Neq{Column: col, Value: nil})
		}
	}
	return q
}

func (s *SQL) Select(ctx context.Context, table string, f Filter, dest any, opts ...QueryOption) error {
	if f.Empty() {
		return nil
	}
	q := s.scoped(ctx, table, f)
	query := BuildQuery(opts...)
	if query.OrderBy != "" {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: query.OrderBy}, Desc: query.Desc})
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if err := q.Find(dest).Error; err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	return nil
}

func (s *SQL) Pluck(ctx context.Context, table, column string, f Filter) ([]string, error) {
	if f.Empty() {
		return nil, nil
	}
	var raw []sql.NullString
	if err := s.scoped(ctx, table, f).Pluck(column, &raw).Error; err != nil {
		return nil, fmt.Errorf("pluck %s.%s: %w", table, column, err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v.Valid && v.String != "" {
			out = append(out, v.String)
		}
	}
	return out, nil
}

func (s *SQL) Insert(ctx context.Context, table string, value any) error {
	if err := s.db.WithContext(ctx).Table(table).Create(value).Error; err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *SQL) Update(ctx context.Context, table string, f Filter, patch map[string]any) (int64, error) {
	if len(f) == 0 {
		return 0, ErrUnfilteredWrite
	}
	if f.Empty() || len(patch) == 0 {
		return 0, nil
	}
	res := s.scoped(ctx, table, f).Updates(patch)
	if res.Error != nil {
		return 0, fmt.Errorf("update %s: %w", table, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQL) Delete(ctx context.Context, table string, f Filter) (int64, error) {
	if len(f) == 0 {
		return 0, ErrUnfilteredWrite
	}
	if f.Empty() {
		return 0, nil
	}
	proto, ok := models.Prototype(table)
	if !ok {
		return 0, fmt.Errorf("delete %s: %w", table, ErrUnknownTable)
	}
	res := s.scoped(ctx, table, f).Delete(proto)
	if res.Error != nil {
		return 0, fmt.Errorf("delete %s: %w", table, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQL) Transaction(ctx context.Context, fn func(tx Rows) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SQL{db: tx})
	})
}
