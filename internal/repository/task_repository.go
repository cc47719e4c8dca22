package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskdeck/internal/model"
)

// TaskFilter narrows and pages an owner's task listing. Page is 1-based.
type TaskFilter struct {
	Status *bool
	Search string
	Page   int
	Limit  int
}

// TaskRepository defines task persistence operations. Every read and write
// is scoped to the owning user.
type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	FindByOwner(ctx context.Context, userID, taskID uuid.UUID) (*model.Task, error)
	ListByOwner(ctx context.Context, userID uuid.UUID, filter TaskFilter) ([]model.Task, int64, error)
	Update(ctx context.Context, task *model.Task) error
	DeleteByOwner(ctx context.Context, userID, taskID uuid.UUID) (int64, error)
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepository) FindByOwner(ctx context.Context, userID, taskID uuid.UUID) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", taskID, userID).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) ListByOwner(ctx context.Context, userID uuid.UUID, filter TaskFilter) ([]model.Task, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Task{}).Where("user_id = ?", userID)

	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		q = q.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(s)+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tasks []model.Task
	offset := (filter.Page - 1) * filter.Limit
	err := q.Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}

	return tasks, total, nil
}

func (r *taskRepository) Update(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Save(task).Error
}

func (r *taskRepository) DeleteByOwner(ctx context.Context, userID, taskID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", taskID, userID).
		Delete(&model.Task{})
	return res.RowsAffected, res.Error
}
