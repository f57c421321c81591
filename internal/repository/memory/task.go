package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"image-pipeline/internal/domain"
)

// TaskStore keeps tasks, results and usage counters in process. It follows
// the same compare-and-set and tenant rules as the PostgreSQL store.
type TaskStore struct {
	mu      sync.RWMutex
	tasks   map[string]*domain.ProcessingTask
	results map[string]*domain.ProcessingResult
	usage   map[string]int64
	now     func() time.Time
}

func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:   make(map[string]*domain.ProcessingTask),
		results: make(map[string]*domain.ProcessingResult),
		usage:   make(map[string]int64),
		now:     time.Now,
	}
}

func (s *TaskStore) Create(_ context.Context, task *domain.ProcessingTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return &domain.StorageError{Op: "create", Path: task.ID, Err: errDuplicateID}
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *TaskStore) GetByID(_ context.Context, id, userID string) (*domain.ProcessingTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *TaskStore) ListByFilter(_ context.Context, userID string, filter domain.TaskFilter, page, limit int) ([]domain.ProcessingTask, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.ProcessingTask
	for _, t := range s.tasks {
		if t.UserID != userID {
			continue
		}
		if filter.Status != "" && t.State != filter.Status {
			continue
		}
		if filter.DateFrom != nil && t.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && t.CreatedAt.After(*filter.DateTo) {
			continue
		}
		matched = append(matched, *t)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []domain.ProcessingTask{}, total, nil
	}
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

func (s *TaskStore) UpdateStatus(_ context.Context, id string, status domain.TaskState, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if !slices.Contains(domain.AllowedSources(status), t.State) {
		return &domain.ConflictError{TaskID: id, From: t.State, To: status}
	}

	now := s.now()
	t.State = status
	t.UpdatedAt = now
	if errMsg != "" {
		t.ErrorMessage = errMsg
	}
	if status == domain.StateProcessing {
		t.StartedAt = &now
	}
	if status.Terminal() {
		t.CompletedAt = &now
	}
	return nil
}

func (s *TaskStore) Complete(_ context.Context, result *domain.ProcessingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[result.TaskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.State != domain.StateProcessing {
		return &domain.ConflictError{TaskID: t.ID, From: t.State, To: domain.StateCompleted}
	}

	now := s.now()
	t.State = domain.StateCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now

	cp := *result
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	s.results[t.ID] = &cp
	s.usage[t.UserID]++
	return nil
}

func (s *TaskStore) Delete(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return domain.ErrTaskNotFound
	}
	if t.State == domain.StateProcessing {
		return &domain.ConflictError{TaskID: id, From: t.State, Reason: "task is processing"}
	}
	delete(s.tasks, id)
	delete(s.results, id)
	return nil
}

func (s *TaskStore) CountByStatus(_ context.Context, userID string, failedSince time.Time) (domain.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.StatusCounts
	for _, t := range s.tasks {
		if userID != "" && t.UserID != userID {
			continue
		}
		switch t.State {
		case domain.StatePending:
			c.Pending++
		case domain.StateProcessing:
			c.Processing++
		case domain.StateCompleted:
			c.Completed++
		case domain.StateCancelled:
			c.Cancelled++
		case domain.StateFailed:
			if !t.UpdatedAt.Before(failedSince) {
				c.Failed++
			}
		}
	}
	return c, nil
}

func (s *TaskStore) GetResult(_ context.Context, taskID, userID string) (*domain.ProcessingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[taskID]
	if !ok || r.UserID != userID {
		return nil, domain.ErrResultNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *TaskStore) ListStatsRecords(_ context.Context, userID string) ([]domain.StatsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []domain.StatsRecord
	for _, t := range s.tasks {
		if t.UserID != userID {
			continue
		}
		rec := domain.StatsRecord{State: t.State, CreatedAt: t.CreatedAt, CompletedAt: t.CompletedAt}
		if r, ok := s.results[t.ID]; ok {
			rec.Format = r.Format
			rec.ProcessingTimeMs = r.ProcessingTimeMs
			rec.FileSizeReduction = r.FileSizeReduction
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *TaskStore) ListByState(_ context.Context, state domain.TaskState, updatedBefore time.Time) ([]domain.ProcessingTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ProcessingTask
	for _, t := range s.tasks {
		if t.State == state && t.UpdatedAt.Before(updatedBefore) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ImagesProcessed reports the usage counter incremented by Complete.
func (s *TaskStore) ImagesProcessed(userID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[userID]
}
