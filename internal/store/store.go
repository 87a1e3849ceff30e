package store

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
	"ops-gateway/pkg/backoff"
)

// Validator checks a task's type and payload at the enqueue boundary.
// The executor registry implements it; the store stays agnostic to
// handler internals.
type Validator interface {
	Validate(taskType models.TaskType, payload map[string]any) error
}

// Recorder persists terminal tasks. Optional; a nil recorder keeps the
// store purely in-memory.
type Recorder interface {
	RecordTask(ctx context.Context, task *models.Task) error
}

// ChangeFunc observes task transitions (created, retrying, completed,
// failed, cancelled). The task argument is a private copy.
type ChangeFunc func(event string, task *models.Task)

// EnqueueRequest carries the caller-supplied fields of a new task.
type EnqueueRequest struct {
	Type       models.TaskType
	Priority   models.Priority
	Payload    map[string]any
	Timeout    time.Duration
	MaxRetries int
}

// Store owns all task state and is its sole mutator. All transitions go
// through its atomic operations; the mutex is never held across I/O.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task
	pending   pendingHeap
	seq       uint64
	validator Validator
	recorder  Recorder
	onChange  ChangeFunc
	logger    *logging.Logger

	defaultTimeout time.Duration
	defaultRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder attaches a terminal-task recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithChangeFunc attaches a transition observer.
func WithChangeFunc(fn ChangeFunc) Option {
	return func(s *Store) { s.onChange = fn }
}

// WithDefaults overrides the fallback timeout and retry budget applied
// when an enqueue request leaves them zero.
func WithDefaults(timeout time.Duration, maxRetries int) Option {
	return func(s *Store) {
		s.defaultTimeout = timeout
		s.defaultRetries = maxRetries
	}
}

// New creates an empty Store.
func New(validator Validator, logger *logging.Logger, opts ...Option) *Store {
	s := &Store{
		tasks:          make(map[string]*models.Task),
		validator:      validator,
		logger:         logger,
		defaultTimeout: 5 * time.Minute,
		defaultRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	heap.Init(&s.pending)
	return s
}

// Enqueue validates and persists a new pending task. Critical-priority
// tasks are not placed on the scheduler queue; the caller hands them to
// the dispatcher directly. Retries of critical tasks re-enter the queue
// like any other task.
func (s *Store) Enqueue(req EnqueueRequest) (*models.Task, error) {
	if !req.Priority.Valid() {
		return nil, models.NewValidationError("priority", "unknown priority %q", req.Priority)
	}
	if err := s.validator.Validate(req.Type, req.Payload); err != nil {
		return nil, err
	}

	now := time.Now()
	task := &models.Task{
		ID:         uuid.NewString(),
		Type:       req.Type,
		Priority:   req.Priority,
		Payload:    req.Payload,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: req.MaxRetries,
		Timeout:    req.Timeout,
	}
	if task.Timeout <= 0 {
		task.Timeout = s.defaultTimeout
	}
	if task.MaxRetries < 0 {
		task.MaxRetries = 0
	} else if req.MaxRetries == 0 {
		task.MaxRetries = s.defaultRetries
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	if task.Priority != models.PriorityCritical {
		s.push(task, now)
	}
	snapshot := task.Clone()
	s.mu.Unlock()

	s.notify("task.created", snapshot)
	return snapshot, nil
}

// NextReady selects the pending task with the lowest priority rank and,
// within a rank, the earliest arrival. Tasks delayed by retry backoff are
// skipped until their NotBefore passes. Returns nil when nothing is ready.
//
// Selection does not claim: the entry stays on the queue, so an unclaimed
// task is returned again on the next call. MarkProcessing is the claim,
// and its exclusivity plus the stale-entry skip here keep a task from
// running twice.
func (s *Store) NextReady() *models.Task {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var skipped []pendingItem
	var selected *models.Task
	for s.pending.Len() > 0 {
		item := heap.Pop(&s.pending).(pendingItem)
		task, ok := s.tasks[item.id]
		if !ok || task.Status != models.StatusPending {
			// Stale entry from an earlier transition; drop it.
			continue
		}
		if task.NotBefore.After(now) {
			skipped = append(skipped, item)
			continue
		}
		selected = task.Clone()
		skipped = append(skipped, item)
		break
	}
	for _, item := range skipped {
		heap.Push(&s.pending, item)
	}
	return selected
}

// MarkProcessing transitions pending -> processing. Only one caller can
// win this transition for a given id, which is what forbids concurrent
// executions of the same task.
func (s *Store) MarkProcessing(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.ErrNotFound
	}
	if task.Status != models.StatusPending {
		return models.ErrInvalidTransition
	}
	task.Status = models.StatusProcessing
	task.UpdatedAt = time.Now()
	return nil
}

// MarkCompleted transitions processing -> completed and records the result.
func (s *Store) MarkCompleted(id string, result *models.TaskResult) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}
	if task.Status != models.StatusProcessing {
		s.mu.Unlock()
		return models.ErrInvalidTransition
	}
	now := time.Now()
	task.Status = models.StatusCompleted
	task.Result = result
	task.Error = ""
	task.UpdatedAt = now
	task.CompletedAt = &now
	snapshot := task.Clone()
	s.mu.Unlock()

	s.record(snapshot)
	s.notify("task.completed", snapshot)
	return nil
}

// MarkFailed transitions processing -> failed, or back to pending with an
// incremented retry count and backoff eligibility while the error is
// retryable and the retry budget is not exhausted.
func (s *Store) MarkFailed(id string, execErr error, retryable bool) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}
	if task.Status != models.StatusProcessing {
		s.mu.Unlock()
		return models.ErrInvalidTransition
	}

	now := time.Now()
	task.UpdatedAt = now
	task.Error = execErr.Error()

	if retryable && task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = models.StatusPending
		task.NotBefore = now.Add(backoff.ForAttempt(task.RetryCount))
		s.push(task, task.NotBefore)
		snapshot := task.Clone()
		s.mu.Unlock()

		s.notify("task.retrying", snapshot)
		return nil
	}

	task.Status = models.StatusFailed
	task.CompletedAt = &now
	snapshot := task.Clone()
	s.mu.Unlock()

	s.record(snapshot)
	s.notify("task.failed", snapshot)
	return nil
}

// Cancel transitions pending -> cancelled. Processing and terminal tasks
// cannot be cancelled.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}
	if task.Status != models.StatusPending {
		s.mu.Unlock()
		return models.ErrInvalidTransition
	}
	now := time.Now()
	task.Status = models.StatusCancelled
	task.UpdatedAt = now
	task.CompletedAt = &now
	snapshot := task.Clone()
	s.mu.Unlock()

	s.record(snapshot)
	s.notify("task.cancelled", snapshot)
	return nil
}

// Get returns a copy of the task or ErrNotFound.
func (s *Store) Get(id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return task.Clone(), nil
}

// List returns tasks ordered by creation time, ascending. An empty filter
// returns everything.
func (s *Store) List(status models.TaskStatus) []*models.Task {
	s.mu.Lock()
	out := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if status != "" && task.Status != status {
			continue
		}
		out = append(out, task.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Counts summarizes task totals for the metrics endpoint.
type Counts struct {
	Total     int                     `json:"total"`
	Active    int                     `json:"active"`
	Completed int                     `json:"completed"`
	Failed    int                     `json:"failed"`
	ByType    map[models.TaskType]int `json:"by_type"`
}

// Stats returns current task counters.
func (s *Store) Stats() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := Counts{ByType: make(map[models.TaskType]int)}
	for _, task := range s.tasks {
		counts.Total++
		counts.ByType[task.Type]++
		switch task.Status {
		case models.StatusPending, models.StatusProcessing:
			counts.Active++
		case models.StatusCompleted:
			counts.Completed++
		case models.StatusFailed:
			counts.Failed++
		}
	}
	return counts
}

// push appends a pending heap entry; caller holds s.mu.
func (s *Store) push(task *models.Task, readyAt time.Time) {
	s.seq++
	heap.Push(&s.pending, pendingItem{
		id:      task.ID,
		rank:    task.Priority.Rank(),
		readyAt: readyAt,
		seq:     s.seq,
	})
}

func (s *Store) notify(event string, task *models.Task) {
	if s.onChange != nil {
		s.onChange(event, task)
	}
}

// record archives a terminal task outside the store lock.
func (s *Store) record(task *models.Task) {
	if s.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.recorder.RecordTask(ctx, task); err != nil {
			s.logger.Errorf("Failed to archive task %s: %v", task.ID, err)
		}
	}()
}

// pendingItem orders the scheduler queue by (priority rank, arrival, seq).
// readyAt equals CreatedAt on first enqueue and NotBefore on retries.
type pendingItem struct {
	id      string
	rank    int
	readyAt time.Time
	seq     uint64
}

type pendingHeap []pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(pendingItem)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
