package gorm

import (
	"context"
	"fmt"

	"container-invoker/internal/core/functions"

	"gorm.io/gorm"
)

// DefaultListLimit caps List when the caller passes no positive limit.
const DefaultListLimit = 50

// Journal stores invocation records in the database.
type Journal struct {
	db *gorm.DB
}

var _ functions.Journal = (*Journal)(nil)

func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Begin(ctx context.Context, rec *functions.InvocationRecord) error {
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert invocation %s: %w", rec.ID, err)
	}
	return nil
}

func (j *Journal) Finish(ctx context.Context, rec *functions.InvocationRecord) error {
	if err := j.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("update invocation %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the most recent records first.
func (j *Journal) List(ctx context.Context, limit int) ([]functions.InvocationRecord, error) {
	var out []functions.InvocationRecord
	if err := j.listQuery(ctx, limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	return out, nil
}

func (j *Journal) listQuery(ctx context.Context, limit int) *gorm.DB {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return j.db.WithContext(ctx).Order("created_at desc").Limit(limit)
}
