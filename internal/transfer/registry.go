package transfer

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/logger"
	"github.com/rolledback/cloudbridge/internal/notify"
	"github.com/rolledback/cloudbridge/internal/provider"
)

// Registry tracks live transfer tasks by caller-assigned ID.
// Each task runs on its own goroutine; the map is the only shared state.
type Registry struct {
	notifier notify.Notifier
	log      logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[int64]*Task
	wg    sync.WaitGroup
}

// NewRegistry creates a registry whose tasks are children of ctx.
func NewRegistry(ctx context.Context, notifier notify.Notifier, log logrus.FieldLogger) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		notifier: notifier,
		log:      logger.Or(log),
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[int64]*Task),
	}
}

// Submit validates req, registers the task and starts it. It returns as soon
// as the task is running in the background; the outcome arrives through the
// notifier. A live task with the same ID yields DUPLICATE_ID.
func (r *Registry) Submit(store provider.RemoteStore, req Request) (*Task, error) {
	if store == nil {
		return nil, apperror.New(apperror.CodeInvalidArgument, "no remote store")
	}
	if req.LocalPath == "" || req.RemotePath == "" {
		return nil, apperror.New(apperror.CodeInvalidArgument, "local and remote paths are required")
	}
	if req.Direction != Upload && req.Direction != Download {
		return nil, apperror.Newf(apperror.CodeInvalidArgument, "unknown direction %q", req.Direction)
	}

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return nil, apperror.New(apperror.CodeCancelled, "transfer registry is stopped")
	}
	if _, exists := r.tasks[req.ID]; exists {
		r.mu.Unlock()
		return nil, apperror.Newf(apperror.CodeDuplicateID, "task %d is already running", req.ID)
	}
	task := newTask(r.ctx, store, req, r.notifier, r.log)
	r.tasks[req.ID] = task
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		task.run(r.release)
	}()
	return task, nil
}

// release removes task from the map if it is still the registered entry for
// its ID. Called exactly once per task, before its result is published.
func (r *Registry) release(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[task.ID] == task {
		delete(r.tasks, task.ID)
	}
}

// Cancel asks a live task to stop at its next I/O checkpoint.
// Returns false when no task with id is live.
func (r *Registry) Cancel(id int64) bool {
	r.mu.Lock()
	task, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	task.cancel()
	r.log.WithField("task_id", id).Info("transfer cancel requested")
	return true
}

// Get returns the live task with id.
func (r *Registry) Get(id int64) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	return task, ok
}

// Active returns snapshots of the live tasks ordered by ID.
func (r *Registry) Active() []Snapshot {
	r.mu.Lock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snapshots = append(snapshots, t.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ID < snapshots[j].ID })
	return snapshots
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Stop cancels every task and waits for them to publish their results.
// Submit fails after Stop.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
