package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskdeck/internal/cache"
	apperrors "taskdeck/internal/errors"
	"taskdeck/internal/model"
	"taskdeck/internal/repository"
)

const (
	taskCacheTTL    = 5 * time.Minute
	defaultPageSize = 10
	maxPageSize     = 100
)

// UpdateTaskInput is a partial update; nil fields are left unchanged.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Status      *bool
}

// Pagination describes the position of a page within an owner's task list.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Tasks      []model.Task `json:"tasks"`
	Pagination Pagination   `json:"pagination"`
}

// TaskService handles task operations. Every operation is scoped to the
// authenticated owner; a task belonging to another user is reported as not
// found, never as forbidden.
type TaskService interface {
	Create(ctx context.Context, userID uuid.UUID, title, description string) (*model.Task, error)
	List(ctx context.Context, userID uuid.UUID, filter repository.TaskFilter) (*TaskPage, error)
	Get(ctx context.Context, userID, taskID uuid.UUID) (*model.Task, error)
	Update(ctx context.Context, userID, taskID uuid.UUID, input UpdateTaskInput) (*model.Task, error)
	Toggle(ctx context.Context, userID, taskID uuid.UUID) (*model.Task, error)
	Delete(ctx context.Context, userID, taskID uuid.UUID) error
}

type taskService struct {
	repo  repository.TaskRepository
	cache *cache.Client
}

// NewTaskService creates a new task service.
func NewTaskService(repo repository.TaskRepository, cache *cache.Client) TaskService {
	return &taskService{
		repo:  repo,
		cache: cache,
	}
}

func (s *taskService) cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("task:%s", id.String())
}

// Create stores a new task for the owner. Status starts as not done.
func (s *taskService) Create(ctx context.Context, userID uuid.UUID, title, description string) (*model.Task, error) {
	if strings.TrimSpace(title) == "" {
		return nil, apperrors.ErrTitleRequired
	}

	task := &model.Task{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Status:      false,
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return task, nil
}

// List returns one page of the owner's tasks, newest first. A page past the
// end of the listing yields an empty page, not an error.
func (s *taskService) List(ctx context.Context, userID uuid.UUID, filter repository.TaskFilter) (*TaskPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	tasks, total, err := s.repo.ListByOwner(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	pages := int((total + int64(filter.Limit) - 1) / int64(filter.Limit))

	return &TaskPage{
		Tasks: tasks,
		Pagination: Pagination{
			Total: total,
			Page:  filter.Page,
			Limit: filter.Limit,
			Pages: pages,
		},
	}, nil
}

// Get retrieves one of the owner's tasks, reading through the cache. A
// cached task still has its ownership checked before it is returned.
func (s *taskService) Get(ctx context.Context, userID, taskID uuid.UUID) (*model.Task, error) {
	if data, _ := s.cache.Get(ctx, s.cacheKey(taskID)); data != nil {
		var cached model.Task
		if err := json.Unmarshal(data, &cached); err == nil {
			if cached.UserID != userID {
				return nil, apperrors.ErrTaskNotFound
			}
			return &cached, nil
		}
	}

	task, err := s.repo.FindByOwner(ctx, userID, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	if payload, err := json.Marshal(task); err == nil {
		_ = s.cache.Set(ctx, s.cacheKey(taskID), payload, taskCacheTTL)
	}

	return task, nil
}

// Update applies a partial update to one of the owner's tasks.
func (s *taskService) Update(ctx context.Context, userID, taskID uuid.UUID, input UpdateTaskInput) (*model.Task, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return nil, apperrors.ErrTitleRequired
		}
		task.Title = *input.Title
	}
	if input.Description != nil {
		task.Description = *input.Description
	}
	if input.Status != nil {
		task.Status = *input.Status
	}

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	_ = s.cache.Delete(ctx, s.cacheKey(taskID))

	return task, nil
}

// Toggle flips the completion status of one of the owner's tasks.
func (s *taskService) Toggle(ctx context.Context, userID, taskID uuid.UUID) (*model.Task, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	task.Status = !task.Status
	if err := s.repo.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("toggle task: %w", err)
	}

	_ = s.cache.Delete(ctx, s.cacheKey(taskID))

	return task, nil
}

// Delete permanently removes one of the owner's tasks.
func (s *taskService) Delete(ctx context.Context, userID, taskID uuid.UUID) error {
	affected, err := s.repo.DeleteByOwner(ctx, userID, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrTaskNotFound
	}

	_ = s.cache.Delete(ctx, s.cacheKey(taskID))

	return nil
}
