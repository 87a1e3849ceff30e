package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"ops-gateway/internal/executors"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
	"ops-gateway/internal/store"
)

// schedulerTick bounds how long a backoff-delayed task waits past its
// eligibility before the scheduler re-checks the queue.
const schedulerTick = 250 * time.Millisecond

// Dispatcher pulls ready tasks from the store and executes them on a
// worker pool. Each task runs under its own deadline; a slow handler
// never blocks the scheduler or its sibling workers.
type Dispatcher struct {
	store    *store.Store
	registry *executors.Registry
	logger   *logging.Logger

	tasks  chan *models.Task
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	workers int
}

// New constructs a Dispatcher.
func New(st *store.Store, registry *executors.Registry, logger *logging.Logger, queueSize, workers int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:    st,
		registry: registry,
		logger:   logger,
		tasks:    make(chan *models.Task, queueSize),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		workers:  workers,
	}
}

// Start launches the scheduler loop and the worker pool.
func (d *Dispatcher) Start(wg *sync.WaitGroup) {
	d.wg = wg
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go d.worker(i)
	}
	wg.Add(1)
	go d.schedule()
}

// Stop cancels all workers and in-flight executions.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// Wake nudges the scheduler after an enqueue so new work is picked up
// without waiting for the next tick.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// DispatchNow executes a task immediately, bypassing the scheduler queue.
// Used for critical-priority tasks; the execution still goes through the
// same timeout and retry machinery.
func (d *Dispatcher) DispatchNow(task *models.Task) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(task)
	}()
}

// schedule feeds ready tasks to the workers, woken by enqueues and by a
// short tick that catches backoff-delayed retries.
func (d *Dispatcher) schedule() {
	defer d.wg.Done()
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.drain()
	}
}

// drain moves every currently-ready task onto the worker channel.
// Selection is not a claim, so a task already handed out this pass can
// be offered again until a worker marks it processing; the seen set
// stops the pass instead of queueing duplicates. Anything left over is
// offered again on the next wake or tick.
func (d *Dispatcher) drain() {
	seen := make(map[string]struct{})
	for {
		task := d.store.NextReady()
		if task == nil {
			return
		}
		if _, ok := seen[task.ID]; ok {
			return
		}
		seen[task.ID] = struct{}{}
		select {
		case d.tasks <- task:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debugf("Worker %d stopped", id)
			return
		case task := <-d.tasks:
			d.execute(task)
		}
	}
}

// execute runs one task through its handler and records the outcome. The
// processing transition acts as the per-task lock: if another execution
// already won it, this one backs off silently.
func (d *Dispatcher) execute(task *models.Task) {
	if err := d.store.MarkProcessing(task.ID); err != nil {
		if !errors.Is(err, models.ErrInvalidTransition) {
			d.logger.Warnf("Task %s not dispatchable: %v", task.ID, err)
		}
		return
	}

	handler, ok := d.registry.Get(task.Type)
	if !ok {
		// Registry validated the type at enqueue; a missing handler here
		// means it was deregistered since.
		d.fail(task, models.Permanentf("no handler registered for %q", task.Type))
		return
	}

	d.logger.Infof("Executing task %s type=%s priority=%s attempt=%d",
		task.ID, task.Type, task.Priority, task.RetryCount)

	ctx, cancel := context.WithTimeout(d.ctx, task.Timeout)
	defer cancel()

	result, err := handler.Execute(ctx, task.Payload)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = models.Retryablef("execution exceeded timeout of %s", task.Timeout)
		}
		d.fail(task, err)
		return
	}

	if err := d.store.MarkCompleted(task.ID, result); err != nil {
		d.logger.Errorf("Failed to complete task %s: %v", task.ID, err)
		return
	}
	d.logger.Infof("Task %s completed", task.ID)
}

func (d *Dispatcher) fail(task *models.Task, execErr error) {
	retryable := models.IsRetryable(execErr)
	if err := d.store.MarkFailed(task.ID, execErr, retryable); err != nil {
		d.logger.Errorf("Failed to record failure for task %s: %v", task.ID, err)
		return
	}
	d.logger.Warnf("Task %s failed (retryable=%t): %v", task.ID, retryable, execErr)
}
