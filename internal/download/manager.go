// Package download runs the bounded-concurrency transfer queue. Tasks move
// through queued -> active -> terminal states, write to a temp file, and
// land at their target path with an atomic rename.
package download

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/standardbeagle/mdr/internal/config"
	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
	"github.com/standardbeagle/mdr/internal/types"
)

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
	partSuffix     = ".part"
)

// Status is a snapshot of the queue.
type Status struct {
	Queued  []types.DownloadTask `json:"queued"`
	Active  []types.DownloadTask `json:"active"`
	Paused  []types.DownloadTask `json:"paused"`
	History []types.DownloadTask `json:"history"`
}

// task is the manager-internal task record. The embedded DownloadTask is the
// externally visible snapshot; cancel and pauseRequested drive the state
// machine.
type task struct {
	types.DownloadTask
	cancel         context.CancelFunc
	pauseRequested bool
}

// Manager owns the worker pool and the task table. All mutations of task
// state happen under mu; transfers only touch their own task through the
// manager's accessors.
type Manager struct {
	cfg *config.Config

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   map[int64]*task
	queue   []int64
	history []types.DownloadTask
	// byTarget guards against two live tasks writing the same file.
	byTarget map[string]int64
	nextID   int64

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	events chan types.Progress
}

// NewManager starts cfg.Download.Concurrency workers immediately.
func NewManager(cfg *config.Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		tasks:    make(map[int64]*task),
		byTarget: make(map[string]int64),
		ctx:      ctx,
		stop:     cancel,
		events:   make(chan types.Progress, 64),
	}
	m.cond = sync.NewCond(&m.mu)

	for i := 0; i < cfg.Download.Concurrency; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Events delivers progress updates. Slow consumers lose events rather than
// stalling transfers.
func (m *Manager) Events() <-chan types.Progress {
	return m.events
}

// Enqueue adds a transfer to the back of the queue and returns its id. A
// target path already owned by a live task is rejected with TargetBusy.
func (m *Manager) Enqueue(ref types.ArtifactRef, sourceURL, targetPath string, expectedSize int64) (int64, error) {
	const op = "download.enqueue"
	if sourceURL == "" || targetPath == "" {
		return 0, mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "source URL and target path are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, busy := m.byTarget[targetPath]; busy {
		return 0, mdrerrors.Newf(mdrerrors.ErrorTypeTargetBusy, op, "target %s is owned by task %d", targetPath, owner)
	}

	m.nextID++
	id := m.nextID
	t := &task{DownloadTask: types.DownloadTask{
		ID:           id,
		Ref:          ref,
		SourceURL:    sourceURL,
		TargetPath:   targetPath,
		TempPath:     targetPath + partSuffix,
		ExpectedSize: expectedSize,
		State:        types.TaskQueued,
		EnqueuedAt:   time.Now(),
	}}
	m.tasks[id] = t
	m.byTarget[targetPath] = id
	m.queue = append(m.queue, id)
	m.cond.Signal()
	return id, nil
}

// Status snapshots the queue. History holds the most recent terminal tasks,
// newest last, capped at the configured size.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Status
	inQueue := make(map[int64]bool, len(m.queue))
	for _, id := range m.queue {
		if t, ok := m.tasks[id]; ok && t.State == types.TaskQueued {
			s.Queued = append(s.Queued, t.DownloadTask)
			inQueue[id] = true
		}
	}
	for _, t := range m.tasks {
		switch t.State {
		case types.TaskQueued:
			// A queued task missing from the queue slice is waiting out a
			// retry backoff; it still belongs in the snapshot.
			if !inQueue[t.ID] {
				s.Queued = append(s.Queued, t.DownloadTask)
			}
		case types.TaskActive:
			s.Active = append(s.Active, t.DownloadTask)
		case types.TaskPaused:
			s.Paused = append(s.Paused, t.DownloadTask)
		}
	}
	s.History = append(s.History, m.history...)
	return s
}

// Task returns a snapshot of one task.
func (m *Manager) Task(id int64) (types.DownloadTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return t.DownloadTask, true
	}
	for _, h := range m.history {
		if h.ID == id {
			return h, true
		}
	}
	return types.DownloadTask{}, false
}

// Pause stops a queued or active task, keeping its partial file for resume.
func (m *Manager) Pause(id int64) error {
	const op = "download.pause"
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return mdrerrors.Newf(mdrerrors.ErrorTypeNotFound, op, "no task %d", id)
	}
	switch t.State {
	case types.TaskQueued:
		m.removeFromQueue(id)
		t.State = types.TaskPaused
		return nil
	case types.TaskActive:
		t.pauseRequested = true
		if t.cancel != nil {
			t.cancel()
		}
		return nil
	case types.TaskPaused:
		return nil
	default:
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "task %d is %s", id, t.State)
	}
}

// Resume requeues a paused task.
func (m *Manager) Resume(id int64) error {
	const op = "download.resume"
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return mdrerrors.Newf(mdrerrors.ErrorTypeNotFound, op, "no task %d", id)
	}
	if t.State != types.TaskPaused {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "task %d is %s, not paused", id, t.State)
	}
	t.State = types.TaskQueued
	t.pauseRequested = false
	m.queue = append(m.queue, id)
	m.cond.Signal()
	return nil
}

// Cancel terminates a task and removes its partial file. Only Pause keeps
// the partial file around.
func (m *Manager) Cancel(id int64) error {
	const op = "download.cancel"
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return mdrerrors.Newf(mdrerrors.ErrorTypeNotFound, op, "no task %d", id)
	}
	switch t.State {
	case types.TaskQueued, types.TaskPaused:
		m.removeFromQueue(id)
		m.finishLocked(t, types.TaskCancelled, "cancelled before start")
		return nil
	case types.TaskActive:
		t.pauseRequested = false
		if t.cancel != nil {
			t.cancel()
		}
		return nil
	default:
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "task %d already %s", id, t.State)
	}
}

// Close drains nothing: running transfers are cancelled, workers exit, the
// event channel closes.
func (m *Manager) Close() {
	m.stop()
	m.mu.Lock()
	for _, t := range m.tasks {
		if t.cancel != nil {
			t.cancel()
		}
	}
	m.cond.Broadcast()
	m.mu.Unlock()
	m.wg.Wait()
	close(m.events)
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && m.ctx.Err() == nil {
			m.cond.Wait()
		}
		if m.ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		id := m.queue[0]
		m.queue = m.queue[1:]
		t, ok := m.tasks[id]
		if !ok || t.State != types.TaskQueued {
			m.mu.Unlock()
			continue
		}
		t.State = types.TaskActive
		t.StartedAt = time.Now()
		t.Attempts++
		t.Error = ""
		tctx, cancel := context.WithCancel(m.ctx)
		if m.cfg.Download.PerTaskTimeout > 0 {
			tctx, cancel = context.WithTimeout(m.ctx, m.cfg.Download.PerTaskTimeout)
		}
		t.cancel = cancel
		snapshot := t.DownloadTask
		m.mu.Unlock()

		err := m.transfer(tctx, snapshot)
		cancel()
		m.settle(t, err)
	}
}

// settle routes a finished transfer to its next state: success, pause,
// cancellation, a retry back through the queue, or failure.
func (m *Manager) settle(t *task, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.cancel = nil
	switch {
	case err == nil:
		m.finishLocked(t, types.TaskSucceeded, "")

	case t.pauseRequested:
		t.pauseRequested = false
		t.State = types.TaskPaused

	case mdrerrors.IsType(err, mdrerrors.ErrorTypeCancelled):
		m.finishLocked(t, types.TaskCancelled, err.Error())

	case mdrerrors.Retryable(err) && t.Attempts <= m.cfg.Download.Retries:
		t.State = types.TaskQueued
		t.Error = err.Error()
		delay := retryDelay(t.Attempts)
		log.Printf("download: task %d attempt %d failed (%v), retrying in %s", t.ID, t.Attempts, err, delay)
		id := t.ID
		go func() {
			if !sleepCtx(m.ctx, delay) {
				return
			}
			m.mu.Lock()
			if tt, ok := m.tasks[id]; ok && tt.State == types.TaskQueued {
				m.queue = append(m.queue, id)
				m.cond.Signal()
			}
			m.mu.Unlock()
		}()

	default:
		m.finishLocked(t, types.TaskFailed, err.Error())
	}
}

// finishLocked moves a task to a terminal state and into history. Cancelled
// tasks give up their partial file. Callers hold mu.
func (m *Manager) finishLocked(t *task, state types.TaskState, errMsg string) {
	t.State = state
	t.Error = errMsg
	t.FinishedAt = time.Now()
	if state == types.TaskCancelled && t.TempPath != "" {
		if err := os.Remove(t.TempPath); err != nil && !os.IsNotExist(err) {
			log.Printf("download: task %d: removing %s: %v", t.ID, t.TempPath, err)
		}
	}
	delete(m.byTarget, t.TargetPath)
	delete(m.tasks, t.ID)

	m.history = append(m.history, t.DownloadTask)
	if over := len(m.history) - m.cfg.Download.HistorySize; over > 0 {
		m.history = m.history[over:]
	}
}

func (m *Manager) removeFromQueue(id int64) {
	for i, qid := range m.queue {
		if qid == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// setProgress records transfer counters on the live task.
func (m *Manager) setProgress(id, transferred, total int64) {
	m.mu.Lock()
	if t, ok := m.tasks[id]; ok {
		t.Transferred = transferred
		t.TotalBytes = total
	}
	m.mu.Unlock()
}

// emit publishes a progress event without ever blocking a transfer.
func (m *Manager) emit(p types.Progress) {
	select {
	case m.events <- p:
	default:
	}
}

func retryDelay(attempt int) time.Duration {
	d := baseRetryDelay << (attempt - 1)
	if d > maxRetryDelay || d <= 0 {
		return maxRetryDelay
	}
	return d
}

// sleepCtx sleeps for d or until ctx is done; reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
