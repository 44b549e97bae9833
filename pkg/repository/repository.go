package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/fiscalsync/pkg/db/option"
	"gorm.io/gorm"
)

// Store is a generic gorm-backed store for tenant-owned rows. Rows are
// matched by struct filters; zero-valued fields are ignored, so callers put
// the account id in every filter they build.
type Store[T any] struct {
	db *gorm.DB
}

func NewStore[T any](db *gorm.DB) Store[T] {
	return Store[T]{db: db}
}

func (s Store[T]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	var rows []*T
	err := s.query(ctx, filter, opts...).Find(&rows).Error
	return rows, err
}

// FindOne returns nil without error when no row matches.
func (s Store[T]) FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error) {
	var row T
	err := s.query(ctx, filter, opts...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s Store[T]) Create(ctx context.Context, row *T) error {
	return s.db.WithContext(ctx).Create(row).Error
}

// Updates writes columns on every row matching filter and reports how many
// rows changed.
func (s Store[T]) Updates(ctx context.Context, filter *T, columns map[string]any) (int64, error) {
	if isEmpty(filter) {
		return 0, errEmptyFilter
	}
	res := s.db.WithContext(ctx).Model(new(T)).Where(filter).Updates(columns)
	return res.RowsAffected, res.Error
}

func (s Store[T]) Delete(ctx context.Context, filter *T) (int64, error) {
	if isEmpty(filter) {
		return 0, errEmptyFilter
	}
	res := s.db.WithContext(ctx).Where(filter).Delete(new(T))
	return res.RowsAffected, res.Error
}

func (s Store[T]) Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error) {
	var count int64
	err := s.query(ctx, filter, opts...).Model(new(T)).Count(&count).Error
	return count, err
}

func (s Store[T]) query(ctx context.Context, filter *T, opts ...option.QueryOption) *gorm.DB {
	db := s.db.WithContext(ctx)
	if filter != nil {
		db = db.Where(filter)
	}
	for _, opt := range opts {
		db = opt.Apply(db)
	}
	return db
}

var errEmptyFilter = errors.New("repository: refusing to write without a filter")

func isEmpty[T any](filter *T) bool {
	if filter == nil {
		return true
	}
	var zero T
	return any(*filter) == any(zero)
}
